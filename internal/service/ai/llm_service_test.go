package ai

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhouzirui/skychat/backend/internal/config"
)

type fakeChatModel struct {
	mu    sync.Mutex
	calls [][]*schema.Message
	reply string
	err   error
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, input)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestGenerateReplySendsPromptUnchanged(t *testing.T) {
	fake := &fakeChatModel{reply: "Hello there!"}
	svc, err := NewService(context.Background(), fake, config.AIConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	prompt := "Explain {braces} and 100% literal text"
	got, err := svc.GenerateReply(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", got)

	require.Len(t, fake.calls, 1)
	require.Len(t, fake.calls[0], 1)
	assert.Equal(t, schema.User, fake.calls[0][0].Role)
	assert.Equal(t, prompt, fake.calls[0][0].Content)
}

func TestGenerateReplyPrependsSystemPrompt(t *testing.T) {
	fake := &fakeChatModel{reply: "ok"}
	svc, err := NewService(context.Background(), fake, config.AIConfig{SystemPrompt: "You are a concise assistant."}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = svc.GenerateReply(context.Background(), "hi")
	require.NoError(t, err)

	require.Len(t, fake.calls, 1)
	msgs := fake.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "You are a concise assistant.", msgs[0].Content)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestGenerateReplyErrors(t *testing.T) {
	boom := errors.New("quota exceeded")
	svc, err := NewService(context.Background(), &fakeChatModel{err: boom}, config.AIConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = svc.GenerateReply(context.Background(), "hi")
	assert.ErrorIs(t, err, boom)

	svc, err = NewService(context.Background(), &fakeChatModel{reply: "  "}, config.AIConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = svc.GenerateReply(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestNewServiceRequiresModel(t *testing.T) {
	_, err := NewService(context.Background(), nil, config.AIConfig{}, nil)
	assert.Error(t, err)
}

func TestNewChatModelRejectsMissingCredentials(t *testing.T) {
	_, err := NewChatModel(context.Background(), config.AIConfig{Provider: config.ProviderGemini})
	assert.Error(t, err)

	_, err = NewChatModel(context.Background(), config.AIConfig{Provider: config.ProviderArk, Ark: config.ArkConfig{Model: "ep"}})
	assert.Error(t, err)
}
