package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/fortisvoice/backend/internal/config"
)

const defaultAnthropicMaxTokens = 1024

type anthropicChatModel struct {
	client *anthropic.Client
	cfg    config.AIConfig
}

func newAnthropicChatModel(cfg config.AIConfig) *anthropicChatModel {
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &anthropicChatModel{client: &client, cfg: cfg}
}

func (m *anthropicChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	callOpts := callOptions(m.cfg, opts...)
	system, turns := splitSystem(input)

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, msg := range turns {
		switch msg.Role {
		case schema.User:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case schema.Assistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := int64(defaultAnthropicMaxTokens)
	if callOpts.MaxTokens != nil && *callOpts.MaxTokens > 0 {
		maxTokens = int64(*callOpts.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(*callOpts.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if callOpts.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*callOpts.Temperature))
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		content.WriteString(block.Text)
	}

	return schema.AssistantMessage(content.String(), nil), nil
}

func (m *anthropicChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return singleChunkStream(ctx, m, input, opts...)
}
