// Package reply produces the assistant's answer to each user turn.
package reply

import (
	"context"
	"fmt"

	"github.com/fortisvoice/backend/internal/config"
	"github.com/fortisvoice/backend/internal/logger"
	"github.com/fortisvoice/backend/internal/model/chat"
	"github.com/fortisvoice/backend/internal/service/ai"
)

// Engine turns the conversation so far plus a new utterance into exactly one
// reply. Implementations never fail: problems become reply text.
type Engine interface {
	GenerateReply(ctx context.Context, history []chat.Message, utterance string) string
}

// New selects the engine named by cfg.Reply.Strategy.
func New(ctx context.Context, cfg *config.Config) (Engine, error) {
	switch cfg.Reply.Strategy {
	case config.StrategyRules:
		logger.For("reply").Info("using deterministic replies")
		return NewRules(), nil
	case config.StrategyLLM:
		if !cfg.AI.Enabled() {
			logger.For("reply").Warn("no credential configured for provider; replies will carry a warning", "provider", cfg.AI.Provider)
			return NewDelegated(nil, cfg.Reply.Timeout), nil
		}

		chatModel, err := ai.NewChatModel(ctx, cfg.AI)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}

		svc, err := ai.NewService(ctx, chatModel, ai.SystemInstruction, cfg.Reply.HistoryLimit)
		if err != nil {
			return nil, err
		}

		logger.For("reply").Info("using delegated replies", "provider", cfg.AI.Provider, "model", cfg.AI.Model)
		return NewDelegated(svc, cfg.Reply.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown reply strategy %q", cfg.Reply.Strategy)
	}
}
