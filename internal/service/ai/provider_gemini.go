package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/fortisvoice/backend/internal/config"
)

type geminiChatModel struct {
	client *genai.Client
	cfg    config.AIConfig
}

func newGeminiChatModel(ctx context.Context, cfg config.AIConfig) (*geminiChatModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &geminiChatModel{client: client, cfg: cfg}, nil
}

func (m *geminiChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	callOpts := callOptions(m.cfg, opts...)
	system, turns := splitSystem(input)

	contents := make([]*genai.Content, 0, len(turns))
	for _, msg := range turns {
		role := string(genai.RoleUser)
		if msg.Role == schema.Assistant {
			role = string(genai.RoleModel)
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	genCfg := &genai.GenerateContentConfig{}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if callOpts.Temperature != nil {
		temperature := *callOpts.Temperature
		genCfg.Temperature = &temperature
	}
	if callOpts.MaxTokens != nil {
		genCfg.MaxOutputTokens = int32(*callOpts.MaxTokens)
	}

	result, err := m.client.Models.GenerateContent(ctx, *callOpts.Model, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	var content strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			content.WriteString(part.Text)
		}
		break
	}

	return schema.AssistantMessage(content.String(), nil), nil
}

func (m *geminiChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return singleChunkStream(ctx, m, input, opts...)
}
