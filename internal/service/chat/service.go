package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fortisvoice/backend/internal/logger"
	"github.com/fortisvoice/backend/internal/model/chat"
	"github.com/fortisvoice/backend/internal/service/reply"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrTurnInProgress  = errors.New("a reply is already in progress")
	ErrTurnDiscarded   = errors.New("turn discarded by clear")
	ErrInvalidLocale   = errors.New("unsupported locale")
)

// Transcriber converts an uploaded audio clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format, languageHint string) (string, error)
}

type sessionState struct {
	session    chat.Session
	generation uint64
	cancel     context.CancelFunc
	touched    time.Time
}

// Service keeps every tab's conversation in memory and runs user turns
// through the reply engine.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	watchers map[string]map[uint64]func(Event)
	watchSeq uint64

	engine      reply.Engine
	transcriber Transcriber
	defaults    chat.Settings
	now         func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithTranscriber enables audio turns.
func WithTranscriber(t Transcriber) Option {
	return func(s *Service) { s.transcriber = t }
}

// WithDefaults sets the settings new sessions start with.
func WithDefaults(settings chat.Settings) Option {
	return func(s *Service) { s.defaults = settings }
}

// WithClock overrides the wall clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService bootstraps the in-memory chat service.
func NewService(engine reply.Engine, opts ...Option) *Service {
	s := &Service{
		sessions: make(map[string]*sessionState),
		watchers: make(map[string]map[uint64]func(Event)),
		engine:   engine,
		defaults: chat.Settings{Locale: chat.DefaultLocale},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession provisions an empty session. Zero-valued settings fall back
// to the service defaults.
func (s *Service) CreateSession(_ context.Context, settings *chat.Settings) (chat.Session, error) {
	effective := s.defaults
	if settings != nil {
		if settings.Locale != "" {
			if !chat.ValidLocale(settings.Locale) {
				return chat.Session{}, ErrInvalidLocale
			}
			effective.Locale = settings.Locale
		}
		effective.AutoSpeak = settings.AutoSpeak
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		Settings:  effective,
		Messages:  make([]chat.Message, 0, 16),
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = &sessionState{session: session, touched: s.now()}
	s.mu.Unlock()

	logger.For("chat").Debug("session created", "session", session.ID, "locale", effective.Locale)
	return snapshot(session), nil
}

// GetSession returns a copy of the session.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	state.touched = s.now()
	return snapshot(state.session), nil
}

// DeleteSession tears the session down and cancels any reply in flight.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	state, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if state.cancel != nil {
		state.cancel()
	}
	delete(s.sessions, sessionID)
	deleted := snapshot(state.session)
	s.mu.Unlock()

	s.notify(Event{Kind: EventDeleted, Session: deleted})
	logger.For("chat").Debug("session deleted", "session", sessionID)
	return nil
}

// Clear empties the transcript, resets the draft and last reply, re-enables
// the controls and abandons any reply in flight. Voice counters are kept so
// outcomes of earlier recordings stay undeliverable.
func (s *Service) Clear(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	state, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return chat.Session{}, ErrSessionNotFound
	}

	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
	}
	state.generation++
	state.session.Messages = make([]chat.Message, 0, 16)
	state.session.Draft = ""
	state.session.LastReply = ""
	state.session.Listening = false
	state.session.Busy = false
	state.session.Pending = ""
	state.session.Revision++
	state.touched = s.now()
	cleared := snapshot(state.session)
	s.mu.Unlock()

	s.notify(Event{Kind: EventCleared, Session: cleared})
	return cleared, nil
}

// SetDraft stores the composer text.
func (s *Service) SetDraft(_ context.Context, sessionID, draft string) (chat.Session, error) {
	return s.update(sessionID, func(session *chat.Session) error {
		session.Draft = draft
		return nil
	})
}

// UpdateSettings replaces the session's locale and auto-speak toggle. An
// empty locale keeps the current one.
func (s *Service) UpdateSettings(_ context.Context, sessionID string, settings chat.Settings) (chat.Session, error) {
	if settings.Locale != "" && !chat.ValidLocale(settings.Locale) {
		return chat.Session{}, ErrInvalidLocale
	}
	return s.update(sessionID, func(session *chat.Session) error {
		if settings.Locale != "" {
			session.Settings.Locale = settings.Locale
		}
		session.Settings.AutoSpeak = settings.AutoSpeak
		return nil
	})
}

// Len reports the number of live sessions.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) update(sessionID string, mutate func(*chat.Session) error) (chat.Session, error) {
	s.mu.Lock()
	state, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return chat.Session{}, ErrSessionNotFound
	}
	if err := mutate(&state.session); err != nil {
		s.mu.Unlock()
		return chat.Session{}, err
	}
	state.session.Revision++
	state.touched = s.now()
	updated := snapshot(state.session)
	s.mu.Unlock()

	s.notify(Event{Kind: EventUpdated, Session: updated})
	return updated, nil
}

func snapshot(session chat.Session) chat.Session {
	copied := make([]chat.Message, len(session.Messages))
	copy(copied, session.Messages)
	session.Messages = copied
	return session
}

// FindMessage returns one message of the session's transcript.
func (s *Service) FindMessage(_ context.Context, sessionID, messageID string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return chat.Message{}, ErrSessionNotFound
	}
	for _, msg := range state.session.Messages {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return chat.Message{}, ErrMessageNotFound
}
