// Package transcribe converts uploaded voice clips to text through a hosted
// speech-to-text API.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fortisvoice/backend/internal/config"
)

var (
	// ErrNotConfigured is returned by New when no provider is usable.
	ErrNotConfigured = errors.New("speech-to-text not configured")
	// ErrNoAudio is returned for an empty clip.
	ErrNoAudio = errors.New("no audio data")
	// ErrUnsupportedFormat is returned for a container the provider cannot
	// decode.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Transcriber converts one clip to text. languageHint is a bare language
// code such as "en" or "ur" and may be empty.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format, languageHint string) (string, error)
}

// New returns the transcriber for cfg.Provider, bounded by cfg.Timeout.
func New(cfg config.SpeechConfig) (Transcriber, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	var t Transcriber
	switch cfg.Provider {
	case "openai":
		t = NewWhisper(cfg)
	case "volcengine":
		t = NewVolcengine(cfg)
	default:
		return nil, fmt.Errorf("unsupported speech provider %q", cfg.Provider)
	}
	return WithTimeout(t, cfg.Timeout), nil
}

type timeoutTranscriber struct {
	next    Transcriber
	timeout time.Duration
}

// WithTimeout bounds every call to next. A non-positive timeout disables it.
func WithTimeout(next Transcriber, timeout time.Duration) Transcriber {
	if timeout <= 0 {
		return next
	}
	return &timeoutTranscriber{next: next, timeout: timeout}
}

func (t *timeoutTranscriber) Transcribe(ctx context.Context, audio []byte, format, languageHint string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Transcribe(ctx, audio, format, languageHint)
}
