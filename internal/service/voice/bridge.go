// Package voice carries browser speech-recognition results into the chat
// session, delivering each recording's outcome at most once.
package voice

import (
	"context"
	"errors"
	"strings"

	"github.com/fortisvoice/backend/internal/logger"
	"github.com/fortisvoice/backend/internal/model/chat"
	chatsvc "github.com/fortisvoice/backend/internal/service/chat"
)

// OutcomeKind is the terminal state of a recording.
type OutcomeKind string

const (
	OutcomeTranscript  OutcomeKind = "transcript"
	OutcomeNoSpeech    OutcomeKind = "no-speech"
	OutcomeUnsupported OutcomeKind = "unsupported"
	OutcomeError       OutcomeKind = "error"
)

// Outcome is what the client reports when a recording ends.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Text   string      `json:"text,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// Transcript is a recognised utterance.
func Transcript(text string) Outcome { return Outcome{Kind: OutcomeTranscript, Text: text} }

// NoSpeech reports a recording that ended without recognised speech.
func NoSpeech() Outcome { return Outcome{Kind: OutcomeNoSpeech} }

// Unsupported reports a client without speech recognition.
func Unsupported() Outcome { return Outcome{Kind: OutcomeUnsupported} }

// Failed reports a recognition or transport error.
func Failed(reason string) Outcome { return Outcome{Kind: OutcomeError, Reason: reason} }

// Notice kinds.
const (
	NoticeUnsupported = "unsupported"
	NoticeError       = "error"
	NoticeBusy        = "busy"
)

// Notice is a user-visible status line that does not enter the transcript.
type Notice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

const (
	unsupportedMessage = "Voice input isn't available in this browser. Try Chrome or Edge, or type your message."
	busyMessage        = "Please wait for the current reply before sending another message."
)

// BusyNotice is shown when a submission arrives while a reply is pending.
func BusyNotice() *Notice {
	return &Notice{Kind: NoticeBusy, Message: busyMessage}
}

// Recording identifies one listening interval.
type Recording struct {
	ID     uint64 `json:"id"`
	Locale string `json:"locale"`
}

// Result reports what completing a recording did. Duplicate is set when the
// outcome was not delivered because the recording was already delivered or
// has been superseded.
type Result struct {
	Duplicate bool          `json:"duplicate"`
	Turn      *chatsvc.Turn `json:"turn,omitempty"`
	Notice    *Notice       `json:"notice,omitempty"`
	Session   chat.Session  `json:"-"`
}

// Store is the session state the bridge reads and appends to.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	BeginRecording(ctx context.Context, sessionID string) (uint64, chat.Session, error)
	ClaimRecording(ctx context.Context, sessionID string, recordingID uint64) (bool, chat.Session, error)
	SubmitText(ctx context.Context, sessionID, text string) (*chatsvc.Turn, error)
	SubmitAudio(ctx context.Context, sessionID string, audio []byte, format string) (*chatsvc.Turn, error)
}

// Bridge turns recording lifecycles into session turns.
type Bridge struct {
	store Store
}

// NewBridge returns a bridge over store.
func NewBridge(store Store) *Bridge {
	return &Bridge{store: store}
}

// Begin starts a recording and disables the composer. Starting while another
// recording is open supersedes it.
func (b *Bridge) Begin(ctx context.Context, sessionID string) (Recording, error) {
	trigger, session, err := b.store.BeginRecording(ctx, sessionID)
	if err != nil {
		return Recording{}, err
	}

	logger.For("voice").Debug("recording started", "session", sessionID, "recording", trigger)
	return Recording{ID: trigger, Locale: session.Settings.Locale}, nil
}

// Complete delivers the outcome of recordingID. The composer is re-enabled
// whatever the outcome.
func (b *Bridge) Complete(ctx context.Context, sessionID string, recordingID uint64, outcome Outcome) (Result, error) {
	log := logger.For("voice").With("session", sessionID, "recording", recordingID)

	claimed, session, err := b.store.ClaimRecording(ctx, sessionID, recordingID)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		log.Debug("ignoring duplicate outcome", "kind", outcome.Kind)
		return Result{Duplicate: true, Session: session}, nil
	}

	result := Result{Session: session}
	switch outcome.Kind {
	case OutcomeTranscript:
		text := strings.TrimSpace(outcome.Text)
		if text == "" {
			log.Debug("empty transcript")
			return result, nil
		}
		return b.submit(ctx, sessionID, result, func() (*chatsvc.Turn, error) {
			return b.store.SubmitText(ctx, sessionID, text)
		})
	case OutcomeNoSpeech:
		log.Debug("no speech detected")
		return result, nil
	case OutcomeUnsupported:
		log.Info("speech recognition unsupported by client")
		result.Notice = &Notice{Kind: NoticeUnsupported, Message: unsupportedMessage}
		return result, nil
	case OutcomeError:
		reason := strings.TrimSpace(outcome.Reason)
		if reason == "" {
			reason = "unknown error"
		}
		log.Warn("speech recognition failed", "reason", reason)
		result.Notice = &Notice{Kind: NoticeError, Message: "Voice input failed: " + reason, Reason: reason}
		return result, nil
	default:
		result.Notice = &Notice{Kind: NoticeError, Message: "Voice input failed: unrecognised outcome", Reason: string(outcome.Kind)}
		return result, nil
	}
}

// SubmitAudio delivers a recorded clip as an audio message. A zero
// recordingID skips the delivery check for uploads not tied to a recording.
func (b *Bridge) SubmitAudio(ctx context.Context, sessionID string, recordingID uint64, audio []byte, format string) (Result, error) {
	var result Result
	if recordingID > 0 {
		claimed, session, err := b.store.ClaimRecording(ctx, sessionID, recordingID)
		if err != nil {
			return Result{}, err
		}
		if !claimed {
			logger.For("voice").Debug("ignoring duplicate audio", "session", sessionID, "recording", recordingID)
			return Result{Duplicate: true, Session: session}, nil
		}
		result.Session = session
	}

	return b.submit(ctx, sessionID, result, func() (*chatsvc.Turn, error) {
		return b.store.SubmitAudio(ctx, sessionID, audio, format)
	})
}

func (b *Bridge) submit(ctx context.Context, sessionID string, result Result, run func() (*chatsvc.Turn, error)) (Result, error) {
	turn, err := run()
	switch {
	case errors.Is(err, chatsvc.ErrTurnInProgress):
		result.Notice = BusyNotice()
	case errors.Is(err, chatsvc.ErrTurnDiscarded):
	case err != nil:
		return Result{}, err
	default:
		result.Turn = turn
	}

	session, err := b.store.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	result.Session = session
	return result, nil
}
