package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/skychat/backend/internal/config"
)

const (
	successTemplate  = "The current weather in %s is %s with a temperature of %s°C."
	fallbackTemplate = "Unable to fetch weather data for %s. Please check the location and try again."

	maxBodyBytes = 1 << 20
)

var errNoConditions = errors.New("response carries no weather conditions")

// Client looks up current conditions from an OpenWeatherMap-compatible API.
type Client struct {
	apiKey     string
	baseURL    string
	units      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient 根据配置创建天气客户端。
func NewClient(cfg config.WeatherConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	units := cfg.Units
	if units == "" {
		units = "metric"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		units:      units,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("weather"),
	}
}

// currentResponse is the subset of the provider payload we read.
type currentResponse struct {
	Name    string `json:"name"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
}

// Lookup returns a sentence describing the weather at location. Every failure
// is turned into a fallback sentence naming the location, so callers can show
// the result directly.
func (c *Client) Lookup(ctx context.Context, location string) string {
	current, err := c.fetch(ctx, location)
	if err != nil {
		c.logger.Warn("weather lookup failed", zap.String("location", location), zap.Error(err))
		return Fallback(location)
	}

	c.logger.Debug("weather lookup succeeded", zap.String("location", location), zap.String("resolved", current.Name))
	return fmt.Sprintf(successTemplate, current.Name, current.Weather[0].Description, formatTemp(current.Main.Temp))
}

// Fallback is the reply used when conditions for location cannot be fetched.
func Fallback(location string) string {
	return fmt.Sprintf(fallbackTemplate, location)
}

func (c *Client) fetch(ctx context.Context, location string) (*currentResponse, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid weather base url: %w", err)
	}

	query := endpoint.Query()
	query.Set("q", location)
	query.Set("appid", c.apiKey)
	query.Set("units", c.units)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build weather request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read weather response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("weather api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var current currentResponse
	if err := json.Unmarshal(body, &current); err != nil {
		return nil, fmt.Errorf("decode weather response: %w", err)
	}
	if len(current.Weather) == 0 {
		return nil, errNoConditions
	}

	return &current, nil
}

// formatTemp prints the shortest representation: 21, 21.5, -3.25.
func formatTemp(temp float64) string {
	return strconv.FormatFloat(temp, 'f', -1, 64)
}
