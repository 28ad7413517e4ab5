package errtrack

import (
	"sync"
	"time"

	"argus/core"
)

// breadcrumbTrail is the global capped ring of recent contextual events.
// Crumbs expire after maxAge and the oldest are evicted past the cap.
type breadcrumbTrail struct {
	mu     sync.Mutex
	max    int
	maxAge time.Duration
	crumbs []core.Breadcrumb
	now    func() time.Time
}

func newBreadcrumbTrail(max int, maxAge time.Duration) *breadcrumbTrail {
	return &breadcrumbTrail{
		max:    max,
		maxAge: maxAge,
		now:    time.Now,
	}
}

func (t *breadcrumbTrail) add(crumb core.Breadcrumb) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if crumb.Timestamp.IsZero() {
		crumb.Timestamp = t.now().UTC()
	}
	t.crumbs = append(t.crumbs, crumb)
	t.pruneLocked()
}

// snapshot returns a copy of the live crumbs, oldest first
func (t *breadcrumbTrail) snapshot() []core.Breadcrumb {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneLocked()
	if len(t.crumbs) == 0 {
		return nil
	}
	out := make([]core.Breadcrumb, len(t.crumbs))
	copy(out, t.crumbs)
	return out
}

func (t *breadcrumbTrail) pruneLocked() {
	cutoff := t.now().Add(-t.maxAge)
	i := 0
	for i < len(t.crumbs) && t.crumbs[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.crumbs = t.crumbs[i:]
	}
	if t.max > 0 && len(t.crumbs) > t.max {
		t.crumbs = t.crumbs[len(t.crumbs)-t.max:]
	}
}
