package chat

import (
	"context"
	"time"

	"github.com/fortisvoice/backend/internal/logger"
)

// Sweep deletes sessions nobody has read or changed for maxIdle. Sessions
// with a watching tab or a reply in flight are kept. It returns the number
// of sessions removed.
func (s *Service) Sweep(ctx context.Context, maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	var idle []string
	for id, state := range s.sessions {
		if len(s.watchers[id]) > 0 || state.session.Busy {
			continue
		}
		if state.touched.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	s.mu.Unlock()

	removed := 0
	for _, id := range idle {
		if err := s.DeleteSession(ctx, id); err == nil {
			removed++
		}
	}
	if removed > 0 {
		logger.For("chat").Info("idle sessions swept", "count", removed)
	}
	return removed
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, maxIdle)
		}
	}
}
