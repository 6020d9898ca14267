package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/skychat/backend/internal/config"
	"github.com/zhouzirui/skychat/backend/internal/handler"
	"github.com/zhouzirui/skychat/backend/internal/logging"
	"github.com/zhouzirui/skychat/backend/internal/service/ai"
	"github.com/zhouzirui/skychat/backend/internal/service/chat"
	"github.com/zhouzirui/skychat/backend/internal/service/weather"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	// 全局 logger 在配置加载前仍是 no-op，启动失败需要单独输出。
	bootstrap := zap.Must(zap.NewProduction())

	cfg, logger, err := loadRuntime()
	if err != nil {
		bootstrap.Fatal("startup failed", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Warn("failed to load .env file, continuing with system environment variables only", zap.Error(envErr))
	}

	weatherClient := weather.NewClient(cfg.Weather, logger)
	if !cfg.Weather.Enabled() {
		logger.Warn("weather api key not configured, weather questions will get the fallback reply")
	}

	// Initialize AI service
	var replies chat.ReplyGenerator
	if cfg.AI.Enabled() {
		aiService, err := newAIService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn("failed to initialize AI service, continuing without AI functionality", zap.Error(err))
		} else {
			replies = aiService
			logger.Info("AI service initialized", zap.String("provider", cfg.AI.Provider))
		}
	} else {
		logger.Warn("AI credentials not configured, skipping AI initialization", zap.String("provider", cfg.AI.Provider))
	}

	chatService := chat.NewService(weatherClient, replies, logger)
	router := handler.NewRouter(chatService, logger)

	if err := run(ctx, cfg, router, chatService, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// loadRuntime parses the environment and builds the configured logger.
func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

func newAIService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*ai.Service, error) {
	chatModel, err := ai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return ai.NewService(ctx, chatModel, cfg, logger)
}

func run(ctx context.Context, cfg *config.Config, router http.Handler, chatService *chat.Service, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("chat widget backend listening", zap.String("addr", srv.Addr))
		return runServer(groupCtx, srv)
	})

	group.Go(func() error {
		return chatService.RunJanitor(groupCtx, cfg.Session.SweepInterval, cfg.Session.IdleTTL)
	})

	return group.Wait()
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
