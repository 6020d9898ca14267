package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/skychat/backend/internal/config"
)

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Service encapsulates AI-powered chat functionality
type Service struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	systemPrompt string
	timeout      time.Duration
	logger       *zap.Logger
}

// NewService compiles the prompt chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	templates := make([]schema.MessagesTemplate, 0, 2)
	if cfg.SystemPrompt != "" {
		templates = append(templates, schema.SystemMessage("{system}"))
	}
	templates = append(templates, schema.UserMessage("{query}"))

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(prompt.FromMessages(schema.FString, templates...))
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:        runnable,
		systemPrompt: cfg.SystemPrompt,
		timeout:      cfg.Timeout,
		logger:       logger.Named("ai"),
	}, nil
}

// GenerateReply sends prompt to the model and returns the completion text.
func (s *Service) GenerateReply(ctx context.Context, userPrompt string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	input := map[string]any{"query": userPrompt}
	if s.systemPrompt != "" {
		input["system"] = s.systemPrompt
	}

	started := time.Now()
	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", ErrEmptyCompletion
	}

	s.logger.Debug("generated reply",
		zap.Int("promptLength", len(userPrompt)),
		zap.Int("replyLength", len(response.Content)),
		zap.Duration("elapsed", time.Since(started)))
	return response.Content, nil
}
