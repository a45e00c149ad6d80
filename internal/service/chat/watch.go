package chat

import "github.com/fortisvoice/backend/internal/model/chat"

// EventKind describes what changed in a session.
type EventKind string

const (
	EventUpdated EventKind = "updated"
	EventReplied EventKind = "replied"
	EventCleared EventKind = "cleared"
	EventDeleted EventKind = "deleted"
)

// Event carries the session state after a change. Turn is set for
// EventReplied.
type Event struct {
	Kind    EventKind
	Session chat.Session
	Turn    *Turn
}

// Watch registers fn for changes to sessionID and returns a function that
// removes it. fn runs on the goroutine that made the change, after the store
// lock is released.
func (s *Service) Watch(sessionID string, fn func(Event)) func() {
	s.mu.Lock()
	s.watchSeq++
	id := s.watchSeq
	if s.watchers[sessionID] == nil {
		s.watchers[sessionID] = make(map[uint64]func(Event))
	}
	s.watchers[sessionID][id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[sessionID], id)
		if len(s.watchers[sessionID]) == 0 {
			delete(s.watchers, sessionID)
		}
	}
}

func (s *Service) notify(event Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.watchers[event.Session.ID]))
	for _, fn := range s.watchers[event.Session.ID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}
