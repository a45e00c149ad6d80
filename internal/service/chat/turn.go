package chat

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/fortisvoice/backend/internal/analysis/language"
	"github.com/fortisvoice/backend/internal/logger"
	"github.com/fortisvoice/backend/internal/model/chat"
)

// Placeholder replies for audio turns that produce no usable transcript.
const (
	AudioUnavailableReply = "Voice messages can't be transcribed right now because no speech-to-text provider is configured."
	NoSpeechReply         = "I couldn't hear anything in that recording. Please try again."
	TranscriptionFailed   = "Sorry, I couldn't transcribe that recording. Please try again or type your message."
)

// Turn is the user message and the assistant reply a submission appended.
type Turn struct {
	User      chat.Message `json:"user"`
	Assistant chat.Message `json:"assistant"`
}

type pendingTurn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
	history    []chat.Message
	settings   chat.Settings
}

// SubmitText appends a typed or transcribed utterance and its reply. Blank
// text is ignored and yields a nil Turn.
func (s *Service) SubmitText(ctx context.Context, sessionID, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	turn, err := s.beginTurn(ctx, sessionID, text)
	if err != nil {
		return nil, err
	}
	defer turn.cancel()

	user := chat.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      chat.RoleUser,
		Kind:      chat.KindText,
		Content:   text,
		Language:  string(language.Detect(text)),
		CreatedAt: s.now().UTC(),
	}

	answer := s.engine.GenerateReply(turn.ctx, turn.history, text)
	return s.finishTurn(sessionID, turn, user, answer)
}

// SubmitAudio appends an uploaded recording and the reply to its transcript.
// Recordings that cannot be transcribed still get a placeholder reply.
func (s *Service) SubmitAudio(ctx context.Context, sessionID string, audio []byte, format string) (*Turn, error) {
	if len(audio) == 0 {
		return nil, nil
	}

	turn, err := s.beginTurn(ctx, sessionID, "")
	if err != nil {
		return nil, err
	}
	defer turn.cancel()

	user := chat.Message{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Role:        chat.RoleUser,
		Kind:        chat.KindAudio,
		Audio:       audio,
		AudioFormat: format,
		CreatedAt:   s.now().UTC(),
	}

	log := logger.For("chat").With("session", sessionID)

	var answer string
	switch {
	case s.transcriber == nil:
		answer = AudioUnavailableReply
	default:
		transcript, err := s.transcriber.Transcribe(turn.ctx, audio, format, chat.LanguageHint(turn.settings.Locale))
		transcript = strings.TrimSpace(transcript)
		switch {
		case err != nil:
			log.Error("transcription failed", "err", err, "bytes", len(audio))
			answer = TranscriptionFailed
		case transcript == "":
			answer = NoSpeechReply
		default:
			user.Transcript = transcript
			user.Language = string(language.Detect(transcript))
			answer = s.engine.GenerateReply(turn.ctx, turn.history, transcript)
		}
	}

	return s.finishTurn(sessionID, turn, user, answer)
}

func (s *Service) beginTurn(ctx context.Context, sessionID, pending string) (*pendingTurn, error) {
	s.mu.Lock()
	state, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if state.session.Busy {
		s.mu.Unlock()
		return nil, ErrTurnInProgress
	}

	turnCtx, cancel := context.WithCancel(ctx)
	state.cancel = cancel
	state.session.Busy = true
	state.session.Pending = pending
	state.session.Revision++
	state.touched = s.now()
	turn := &pendingTurn{
		ctx:        turnCtx,
		cancel:     cancel,
		generation: state.generation,
		history:    snapshot(state.session).Messages,
		settings:   state.session.Settings,
	}
	busy := snapshot(state.session)
	s.mu.Unlock()

	s.notify(Event{Kind: EventUpdated, Session: busy})
	return turn, nil
}

func (s *Service) finishTurn(sessionID string, turn *pendingTurn, user chat.Message, answer string) (*Turn, error) {
	assistant := chat.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      chat.RoleAssistant,
		Kind:      chat.KindText,
		Content:   answer,
		Language:  string(language.Detect(answer)),
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	state, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if state.generation != turn.generation {
		s.mu.Unlock()
		logger.For("chat").Debug("discarding reply for cleared session", "session", sessionID)
		return nil, ErrTurnDiscarded
	}

	state.session.Messages = append(state.session.Messages, user, assistant)
	state.session.LastReply = answer
	state.session.Draft = ""
	state.session.Busy = false
	state.session.Pending = ""
	state.session.Revision++
	state.touched = s.now()
	state.cancel = nil
	updated := snapshot(state.session)
	s.mu.Unlock()

	result := &Turn{User: user, Assistant: assistant}
	s.notify(Event{Kind: EventReplied, Session: updated, Turn: result})
	return result, nil
}
