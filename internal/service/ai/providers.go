package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/fortisvoice/backend/internal/config"
)

// ErrNotConfigured is returned when the provider lacks a model or credential.
var ErrNotConfigured = errors.New("chat model not configured")

// NewChatModel builds the chat model for cfg.Provider.
func NewChatModel(ctx context.Context, cfg config.AIConfig) (model.BaseChatModel, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	switch cfg.Provider {
	case "ark":
		return newArkChatModel(ctx, cfg)
	case "openai":
		return newOpenAIChatModel(cfg), nil
	case "anthropic":
		return newAnthropicChatModel(cfg), nil
	case "gemini":
		return newGeminiChatModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

func newArkChatModel(ctx context.Context, cfg config.AIConfig) (model.BaseChatModel, error) {
	var temperature *float32
	if cfg.Temperature != nil {
		val := float32(*cfg.Temperature)
		temperature = &val
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		Region:      cfg.Region,
		APIKey:      cfg.APIKey,
		AccessKey:   cfg.AccessKey,
		SecretKey:   cfg.SecretKey,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: temperature,
	})
}

// callOptions merges per-call eino options over the configured defaults.
func callOptions(cfg config.AIConfig, opts ...model.Option) *model.Options {
	base := &model.Options{Model: &cfg.Model, MaxTokens: cfg.MaxTokens}
	if cfg.Temperature != nil {
		val := float32(*cfg.Temperature)
		base.Temperature = &val
	}
	return model.GetCommonOptions(base, opts...)
}

// splitSystem separates system instructions from the conversational turns.
func splitSystem(input []*schema.Message) (string, []*schema.Message) {
	var system string
	turns := make([]*schema.Message, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		if msg.Role == schema.System {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		turns = append(turns, msg)
	}
	return system, turns
}

// singleChunkStream wraps a blocking Generate as a one-element stream.
func singleChunkStream(ctx context.Context, m model.BaseChatModel, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}
