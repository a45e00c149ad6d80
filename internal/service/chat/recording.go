package chat

import (
	"context"

	"github.com/fortisvoice/backend/internal/model/chat"
)

// BeginRecording advances the voice trigger and disables the controls. The
// new trigger value identifies the recording.
func (s *Service) BeginRecording(_ context.Context, sessionID string) (uint64, chat.Session, error) {
	var trigger uint64
	session, err := s.update(sessionID, func(session *chat.Session) error {
		session.VoiceTrigger++
		session.Listening = true
		trigger = session.VoiceTrigger
		return nil
	})
	return trigger, session, err
}

// ClaimRecording reports whether the outcome of recordingID may be
// delivered. A recording is claimable once, and only while it is the latest
// one started; claiming it ends the listening interval. Outcomes of
// superseded recordings leave the newer recording listening.
func (s *Service) ClaimRecording(_ context.Context, sessionID string, recordingID uint64) (bool, chat.Session, error) {
	var claimed bool
	session, err := s.update(sessionID, func(session *chat.Session) error {
		if recordingID != session.VoiceTrigger {
			return nil
		}
		session.Listening = false
		if recordingID <= session.DeliveredTrigger {
			return nil
		}
		session.DeliveredTrigger = recordingID
		claimed = true
		return nil
	})
	return claimed, session, err
}
