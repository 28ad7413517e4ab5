package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"argus/core"
)

// MemoryAlertStore is the default in-process alert store
type MemoryAlertStore struct {
	mu     sync.RWMutex
	alerts map[string]*core.Alert
}

// NewMemoryAlertStore creates an empty in-memory alert store
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{alerts: make(map[string]*core.Alert)}
}

// InsertAlert implements AlertStore
func (s *MemoryAlertStore) InsertAlert(_ context.Context, alert *core.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *alert
	s.alerts[alert.ID] = &cp
	return nil
}

// UpdateAlert implements AlertStore
func (s *MemoryAlertStore) UpdateAlert(_ context.Context, alert *core.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.ID]; !ok {
		return ErrAlertNotFound
	}
	cp := *alert
	s.alerts[alert.ID] = &cp
	return nil
}

// GetAlert implements AlertStore
func (s *MemoryAlertStore) GetAlert(_ context.Context, id string) (*core.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *alert
	return &cp, nil
}

// FindAlertsByFingerprint implements AlertStore
func (s *MemoryAlertStore) FindAlertsByFingerprint(_ context.Context, fingerprint string, windowStart time.Time) ([]*core.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Alert
	for _, alert := range s.alerts {
		if alert.Fingerprint == fingerprint && !alert.Timestamp.Before(windowStart) {
			cp := *alert
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// ListAlerts implements AlertStore
func (s *MemoryAlertStore) ListAlerts(_ context.Context, status core.AlertStatus) ([]*core.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Alert
	for _, alert := range s.alerts {
		if status == "" || alert.Status == status {
			cp := *alert
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// DeleteResolvedBefore implements AlertStore
func (s *MemoryAlertStore) DeleteResolvedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, alert := range s.alerts {
		if alert.Status == core.AlertStatusResolved && alert.ResolvedAt != nil && alert.ResolvedAt.Before(cutoff) {
			delete(s.alerts, id)
			removed++
		}
	}
	return removed, nil
}

// MemoryAuditStore is the default in-process audit store
type MemoryAuditStore struct {
	mu     sync.RWMutex
	events map[string]*core.AuditEvent
	order  []string
}

// NewMemoryAuditStore creates an empty in-memory audit store
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{events: make(map[string]*core.AuditEvent)}
}

// InsertAuditEvent implements AuditStore
func (s *MemoryAuditStore) InsertAuditEvent(_ context.Context, event *core.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events[event.ID] = &cp
	s.order = append(s.order, event.ID)
	return nil
}

// InsertAuditBatch implements AuditStore
func (s *MemoryAuditStore) InsertAuditBatch(ctx context.Context, events []*core.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		cp := *event
		s.events[event.ID] = &cp
		s.order = append(s.order, event.ID)
	}
	return nil
}

// GetAuditEvent implements AuditStore
func (s *MemoryAuditStore) GetAuditEvent(_ context.Context, id string) (*core.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return nil, ErrAuditEventNotFound
	}
	cp := *event
	return &cp, nil
}

// QueryAuditEvents implements AuditStore
func (s *MemoryAuditStore) QueryAuditEvents(_ context.Context, filter *core.AuditFilter) ([]*core.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.AuditEvent
	for _, id := range s.order {
		event, ok := s.events[id]
		if !ok {
			continue
		}
		if filter != nil {
			if !filter.Matches(event) {
				continue
			}
			if filter.Text != "" && !matchesText(event, filter.Text) {
				continue
			}
		}
		cp := *event
		out = append(out, &cp)
	}

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(out) {
				return nil, nil
			}
			out = out[filter.Offset:]
		}
		if filter.Limit > 0 && len(out) > filter.Limit {
			out = out[:filter.Limit]
		}
	}
	return out, nil
}

func matchesText(event *core.AuditEvent, text string) bool {
	needle := strings.ToLower(text)
	return strings.Contains(strings.ToLower(event.Action), needle) ||
		strings.Contains(strings.ToLower(event.Description), needle) ||
		strings.Contains(strings.ToLower(string(event.EventType)), needle)
}

// DeleteEventsBefore implements AuditStore
func (s *MemoryAuditStore) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		event, ok := s.events[id]
		if !ok {
			continue
		}
		if event.Timestamp.Before(cutoff) {
			delete(s.events, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}
