package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/fortisvoice/backend/internal/logger"
	"github.com/fortisvoice/backend/internal/model/chat"
)

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// Service runs the system prompt, a bounded history window and the new
// utterance through a chat model.
type Service struct {
	chatModel    model.BaseChatModel
	chain        compose.Runnable[map[string]any, *schema.Message]
	system       string
	historyLimit int
}

// NewService compiles the prompt chain around chatModel. historyLimit caps the
// number of prior messages forwarded with each request.
func NewService(ctx context.Context, chatModel model.BaseChatModel, system string, historyLimit int) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if historyLimit < 0 {
		historyLimit = 0
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel:    chatModel,
		chain:        runnable,
		system:       system,
		historyLimit: historyLimit,
	}, nil
}

// Complete returns the model's answer to utterance given the prior history.
func (s *Service) Complete(ctx context.Context, history []chat.Message, utterance string) (string, error) {
	input := map[string]any{
		"system":  s.system,
		"history": BuildHistory(history, s.historyLimit),
		"query":   utterance,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", ErrEmptyCompletion
	}

	logger.For("ai").Debug("completion received", "history", len(history), "length", len(response.Content))
	return response.Content, nil
}

// BuildHistory converts the last limit messages into chat-model messages.
// Audio messages contribute their transcript and are skipped without one.
func BuildHistory(messages []chat.Message, limit int) []*schema.Message {
	turns := make([]chat.Message, 0, len(messages))
	for _, msg := range messages {
		if strings.TrimSpace(msg.Text()) == "" {
			continue
		}
		turns = append(turns, msg)
	}

	if limit <= 0 || len(turns) == 0 {
		return nil
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, msg := range turns {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Text()))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Text(), nil))
		}
	}
	return history
}
