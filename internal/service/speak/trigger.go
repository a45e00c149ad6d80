// Package speak asks the client to read replies aloud.
package speak

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/fortisvoice/backend/internal/logger"
	"github.com/fortisvoice/backend/internal/model/chat"
)

// ErrNothingToSpeak is returned for blank text or a session with no reply yet.
var ErrNothingToSpeak = errors.New("nothing to speak")

// Utterance is one request to the speech synthesizer.
type Utterance struct {
	Text   string `json:"text"`
	Locale string `json:"locale"`
	Seq    uint64 `json:"seq"`
}

// Synthesizer is the client's speech output. Cancel silences whatever is
// being spoken or queued.
type Synthesizer interface {
	Cancel(ctx context.Context) error
	Speak(ctx context.Context, u Utterance) error
}

// Trigger owns the single utterance slot of one session: every Speak cancels
// the previous utterance first.
type Trigger struct {
	mu    sync.Mutex
	synth Synthesizer
	seq   uint64
}

// NewTrigger wraps synth.
func NewTrigger(synth Synthesizer) *Trigger {
	return &Trigger{synth: synth}
}

// Speak cancels any utterance in progress and speaks text in locale.
func (t *Trigger) Speak(ctx context.Context, text, locale string) (Utterance, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Utterance{}, ErrNothingToSpeak
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	u := Utterance{Text: text, Locale: locale, Seq: t.seq}

	if err := t.synth.Cancel(ctx); err != nil {
		return Utterance{}, err
	}
	if err := t.synth.Speak(ctx, u); err != nil {
		return Utterance{}, err
	}

	logger.For("speak").Debug("utterance sent", "seq", u.Seq, "locale", locale, "length", len(text))
	return u, nil
}

// Policy decides when replies are spoken.
type Policy string

const (
	// PolicyAuto speaks every new reply when the session's toggle is on.
	PolicyAuto Policy = "auto"
	// PolicyManual speaks the latest reply on request.
	PolicyManual Policy = "manual"
)

// AutoSpeak reports whether a freshly appended reply should be spoken.
func AutoSpeak(session chat.Session) bool {
	return session.Settings.AutoSpeak
}

// LatestReply returns the text a manual speak request reads out.
func LatestReply(session chat.Session) (string, error) {
	msg, ok := session.LastAssistant()
	if !ok || strings.TrimSpace(msg.Content) == "" {
		return "", ErrNothingToSpeak
	}
	return msg.Content, nil
}

// ScriptLiteral encodes text as a double-quoted JavaScript string literal
// that is safe inside an HTML <script> element.
func ScriptLiteral(text string) string {
	encoded, err := json.Marshal(text)
	if err != nil {
		return `""`
	}
	return string(encoded)
}

// Command is a self-contained speech request for clients that run it
// directly.
type Command struct {
	Text   string `json:"text"`
	Locale string `json:"locale"`
	Script string `json:"script"`
}

// NewCommand builds the cancel-then-speak script for text.
func NewCommand(text, locale string) Command {
	script := "window.speechSynthesis.cancel();" +
		"var u=new SpeechSynthesisUtterance(" + ScriptLiteral(text) + ");" +
		"u.lang=" + ScriptLiteral(locale) + ";" +
		"window.speechSynthesis.speak(u);"
	return Command{Text: text, Locale: locale, Script: script}
}
