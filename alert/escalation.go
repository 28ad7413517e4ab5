package alert

import (
	"sync"
	"time"
)

// escalationScheduler tracks the next escalation due time per alert. A
// periodic sweep compares due times against the clock instead of arming one
// timer per alert, so a restart only loses at most one sweep interval and an
// alert never has more than one pending escalation.
type escalationScheduler struct {
	mu      sync.Mutex
	pending map[string]time.Time
}

func newEscalationScheduler() *escalationScheduler {
	return &escalationScheduler{pending: make(map[string]time.Time)}
}

// arm schedules (or reschedules) the alert's next escalation
func (s *escalationScheduler) arm(alertID string, dueAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[alertID] = dueAt
}

// cancel drops any pending escalation for the alert
func (s *escalationScheduler) cancel(alertID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, alertID)
}

// due returns the alert ids whose escalation is due at or before now
func (s *escalationScheduler) due(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, at := range s.pending {
		if !at.After(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *escalationScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
