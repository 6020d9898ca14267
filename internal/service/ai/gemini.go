package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/zhouzirui/skychat/backend/internal/config"
)

// GeminiChatModel adapts the Google GenAI client to eino's chat model
// interface so it can sit in the same chain as the Ark model.
type GeminiChatModel struct {
	client *genai.Client
	model  string
}

// NewGeminiChatModel creates a Gemini-backed chat model.
func NewGeminiChatModel(ctx context.Context, cfg config.GeminiConfig) (*GeminiChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiChatModel{client: client, model: modelName}, nil
}

// Generate returns the first textual completion for input.
func (m *GeminiChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{Model: &m.model}, opts...)

	contents, system := toGenAIContents(input)
	if len(contents) == 0 {
		return nil, errors.New("gemini: no user content to send")
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: options.Temperature,
		TopP:        options.TopP,
	}
	if options.MaxTokens != nil {
		genCfg.MaxOutputTokens = int32(*options.MaxTokens)
	}
	if len(options.Stop) > 0 {
		genCfg.StopSequences = options.Stop
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	modelName := m.model
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}

	resp, err := m.client.Models.GenerateContent(ctx, modelName, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate failed: %w", err)
	}

	return schema.AssistantMessage(resp.Text(), nil), nil
}

// Stream delivers the whole completion as a single chunk.
func (m *GeminiChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// toGenAIContents splits system messages out, since Gemini takes them as a
// separate instruction.
func toGenAIContents(messages []*schema.Message) ([]*genai.Content, string) {
	contents := make([]*genai.Content, 0, len(messages))
	var system string

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			if system != "" {
				system += "\n"
			}
			system += msg.Content
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	return contents, system
}
