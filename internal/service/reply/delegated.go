package reply

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fortisvoice/backend/internal/logger"
	"github.com/fortisvoice/backend/internal/model/chat"
)

const (
	// MissingCredentialWarning is the reply when no provider credential is set.
	MissingCredentialWarning = "AI replies are not configured. Set an API key for the selected provider (for example OPENAI_API_KEY) and restart the server."

	// FallbackReply is the reply when the provider call fails or times out.
	FallbackReply = "Sorry, I couldn't reach the assistant just now. Please try again in a moment."
)

// Completer is the hosted model the delegated engine forwards turns to.
type Completer interface {
	Complete(ctx context.Context, history []chat.Message, utterance string) (string, error)
}

// Delegated forwards each turn to a Completer. A nil Completer means no
// credential was configured.
type Delegated struct {
	completer Completer
	timeout   time.Duration
}

// NewDelegated wraps completer. A non-positive timeout disables the bound.
func NewDelegated(completer Completer, timeout time.Duration) *Delegated {
	return &Delegated{completer: completer, timeout: timeout}
}

// GenerateReply makes a single attempt and never returns an empty string.
func (d *Delegated) GenerateReply(ctx context.Context, history []chat.Message, utterance string) string {
	if d.completer == nil {
		return MissingCredentialWarning
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	log := logger.For("reply")
	started := time.Now()
	answer, err := d.completer.Complete(ctx, history, utterance)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("completion timed out", "after", time.Since(started).Round(time.Millisecond))
		return FallbackReply
	case errors.Is(err, context.Canceled):
		log.Debug("completion cancelled")
		return FallbackReply
	case err != nil:
		log.Error("completion failed", "err", err)
		return FallbackReply
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return FallbackReply
	}

	log.Debug("completion succeeded", "took", time.Since(started).Round(time.Millisecond))
	return answer
}
