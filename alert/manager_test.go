package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/config"
	"argus/core"
	"argus/storage"
)

type dispatch struct {
	alert    *core.Alert
	channels []string
}

type mockNotifier struct {
	mu         sync.Mutex
	dispatches []dispatch
}

func (n *mockNotifier) Dispatch(_ context.Context, alert *core.Alert, channels []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	copied := *alert
	n.dispatches = append(n.dispatches, dispatch{alert: &copied, channels: channels})
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.dispatches)
}

func (n *mockNotifier) last() dispatch {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dispatches[len(n.dispatches)-1]
}

type mockAuditSink struct {
	mu     sync.Mutex
	events []*core.AuditEvent
}

func (s *mockAuditSink) LogEvent(_ context.Context, event *core.AuditEvent) (*core.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return event, nil
}

// fakeSuppressionStore honors the test clock instead of the wall clock
type fakeSuppressionStore struct {
	mu       sync.Mutex
	now      func() time.Time
	windows  map[string]time.Time
	firings  map[string]time.Time
	expiries map[string]time.Time
}

func newFakeSuppressionStore(now func() time.Time) *fakeSuppressionStore {
	return &fakeSuppressionStore{
		now:      now,
		windows:  make(map[string]time.Time),
		firings:  make(map[string]time.Time),
		expiries: make(map[string]time.Time),
	}
}

func (s *fakeSuppressionStore) Suppress(_ context.Context, fp string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[fp] = s.now().Add(ttl)
	return nil
}

func (s *fakeSuppressionStore) IsSuppressed(_ context.Context, fp string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.windows[fp]
	return ok && s.now().Before(expiry), nil
}

func (s *fakeSuppressionStore) RecordFiring(_ context.Context, alertType string, at time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firings[alertType] = at
	s.expiries[alertType] = s.now().Add(ttl)
	return nil
}

func (s *fakeSuppressionStore) LastFiring(_ context.Context, alertType string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.firings[alertType]
	if !ok || !s.now().Before(s.expiries[alertType]) {
		return time.Time{}, false, nil
	}
	return at, true, nil
}

type testHarness struct {
	manager  *Manager
	notifier *mockNotifier
	audit    *mockAuditSink
	clock    *time.Time
}

func (h *testHarness) advance(d time.Duration) {
	*h.clock = h.clock.Add(d)
}

func newTestManager(t *testing.T, cfg config.AlertsConfig) *testHarness {
	t.Helper()

	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	clock := &start
	now := func() time.Time { return *clock }

	notifier := &mockNotifier{}
	audit := &mockAuditSink{}
	store := storage.NewMemoryAlertStore()
	suppress := newFakeSuppressionStore(now)

	m, err := NewManager(cfg, store, suppress, notifier, audit, zap.NewNop().Sugar())
	require.NoError(t, err)
	m.now = now

	return &testHarness{manager: m, notifier: notifier, audit: audit, clock: clock}
}

func TestCreateAlertValidation(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{})

	_, err := h.manager.CreateAlert(context.Background(), &CreateAlertRequest{Title: "x"})
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = h.manager.CreateAlert(context.Background(), &CreateAlertRequest{Type: "x"})
	assert.ErrorIs(t, err, ErrMissingTitle)

	_, err = h.manager.CreateAlert(context.Background(), &CreateAlertRequest{
		Type: "x", Title: "x", Severity: core.Severity("bogus"),
	})
	assert.Error(t, err)
}

func TestCooldownDeduplication(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{DefaultCooldown: 300 * time.Second})
	ctx := context.Background()

	req := &CreateAlertRequest{
		Type:     "db_connection_failure",
		Severity: core.SeverityError,
		Title:    "Database unreachable",
		Source:   "db-pool",
	}

	first, err := h.manager.CreateAlert(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusActive, first.Status)
	assert.Equal(t, 1, h.notifier.count())

	h.advance(100 * time.Second)
	second, err := h.manager.CreateAlert(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusSuppressed, second.Status)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, 1, h.notifier.count(), "suppressed alerts are recorded, not notified")

	h.advance(201 * time.Second)
	third, err := h.manager.CreateAlert(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusActive, third.Status)
	assert.Equal(t, 2, h.notifier.count())
}

func TestSuppressionWindow(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{
		SuppressionEnabled: true,
		SuppressionWindow:  5 * time.Minute,
	})
	ctx := context.Background()

	req := &CreateAlertRequest{Type: "disk_full", Severity: core.SeverityWarning, Title: "Disk full", Source: "node-1"}

	first, err := h.manager.CreateAlert(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusActive, first.Status)

	// different metadata means a different fingerprint, so no suppression
	other, err := h.manager.CreateAlert(ctx, &CreateAlertRequest{
		Type: "disk_full", Severity: core.SeverityWarning, Title: "Disk full", Source: "node-2",
	})
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusActive, other.Status)

	h.advance(time.Minute)
	repeat, err := h.manager.CreateAlert(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusSuppressed, repeat.Status)

	h.advance(5 * time.Minute)
	later, err := h.manager.CreateAlert(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusActive, later.Status)
}

func TestCrisisBypassesThrottling(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{
		DefaultCooldown: 300 * time.Second,
		CrisisEnabled:   true,
		CrisisChannels:  []string{"oncall-sms", "oncall-slack"},
	})
	ctx := context.Background()

	req := &CreateAlertRequest{Type: "safety_check", Severity: core.SeverityError, Title: "Safety check failed", Source: "monitor"}
	_, err := h.manager.CreateAlert(ctx, req)
	require.NoError(t, err)

	// inside the cooldown a normal repeat is suppressed
	h.advance(10 * time.Second)
	repeat, err := h.manager.CreateAlert(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusSuppressed, repeat.Status)

	// a crisis for the same type dispatches anyway
	crisis, err := h.manager.CreateAlert(ctx, &CreateAlertRequest{
		Type: "safety_check", Severity: core.SeverityCrisis, Title: "Safety check failed", Source: "monitor",
	})
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusActive, crisis.Status)
	assert.True(t, crisis.IsCrisis)
	assert.Equal(t, 2, h.notifier.count())
	assert.Equal(t, []string{"oncall-sms", "oncall-slack"}, h.notifier.last().channels)
}

func TestCrisisFlagWithoutCrisisSeverity(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{CrisisEnabled: true})

	alert, err := h.manager.CreateAlert(context.Background(), &CreateAlertRequest{
		Type: "user_risk", Severity: core.SeverityError, Title: "High risk user event",
		IsCrisis: true, UserID: "u-7", RiskLevel: "high",
	})
	require.NoError(t, err)
	assert.True(t, alert.IsCrisis)
	assert.Equal(t, core.AlertStatusActive, alert.Status)
	assert.Equal(t, 1, h.notifier.count())
}

func TestAcknowledgeRequiresActor(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{})
	ctx := context.Background()

	alert, err := h.manager.CreateAlert(ctx, &CreateAlertRequest{Type: "cpu", Title: "CPU high"})
	require.NoError(t, err)

	_, err = h.manager.Acknowledge(ctx, alert.ID, "")
	assert.ErrorIs(t, err, ErrMissingActor)

	acked, err := h.manager.Acknowledge(ctx, alert.ID, "operator-1")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusAcknowledged, acked.Status)
	assert.Equal(t, "operator-1", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)

	// resolved is terminal
	resolved, err := h.manager.Resolve(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusResolved, resolved.Status)

	_, err = h.manager.Acknowledge(ctx, alert.ID, "operator-1")
	assert.Error(t, err)
}

func TestResolutionNotificationForSevereAlerts(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{})
	ctx := context.Background()

	severe, err := h.manager.CreateAlert(ctx, &CreateAlertRequest{
		Type: "api_down", Severity: core.SeverityCritical, Title: "API down",
	})
	require.NoError(t, err)
	require.Equal(t, 1, h.notifier.count())

	h.advance(90 * time.Second)
	_, err = h.manager.Resolve(ctx, severe.ID)
	require.NoError(t, err)
	require.Equal(t, 2, h.notifier.count())
	assert.Contains(t, h.notifier.last().alert.Title, "Resolved:")
	assert.Contains(t, h.notifier.last().alert.Message, "1m30s")

	// info alerts resolve silently
	minor, err := h.manager.CreateAlert(ctx, &CreateAlertRequest{
		Type: "cache_warmup", Severity: core.SeverityInfo, Title: "Cache warmup slow",
	})
	require.NoError(t, err)
	before := h.notifier.count()
	_, err = h.manager.Resolve(ctx, minor.ID)
	require.NoError(t, err)
	assert.Equal(t, before, h.notifier.count())
}

func TestUnknownRuleEvaluationIsNoOp(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{})

	alert, err := h.manager.EvaluateMetric(context.Background(), "no_such_rule", "cpu_percent", 99)
	assert.NoError(t, err)
	assert.Nil(t, alert)
}

func TestEvaluateMetricCreatesAlertOnBreach(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{})
	require.NoError(t, h.manager.AddRule(&core.AlertRule{
		ID: "r-1", Name: "cpu_high", Enabled: true,
		Severity: core.SeverityWarning,
		Conditions: []core.RuleCondition{
			{Metric: "cpu_percent", Operator: "gt", Threshold: 90},
		},
		Channels: []string{"ops-email"},
	}))

	alert, err := h.manager.EvaluateMetric(context.Background(), "cpu_high", "cpu_percent", 85)
	require.NoError(t, err)
	assert.Nil(t, alert)

	alert, err = h.manager.EvaluateMetric(context.Background(), "cpu_high", "cpu_percent", 95)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "cpu_high", alert.Type)
	assert.Equal(t, core.SeverityWarning, alert.Severity)
	assert.Equal(t, []string{"ops-email"}, h.notifier.last().channels)
}

func TestAuditTrailOfLifecycle(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{})
	ctx := context.Background()

	alert, err := h.manager.CreateAlert(ctx, &CreateAlertRequest{Type: "cpu", Title: "CPU high"})
	require.NoError(t, err)
	_, err = h.manager.Acknowledge(ctx, alert.ID, "op-1")
	require.NoError(t, err)
	_, err = h.manager.Resolve(ctx, alert.ID)
	require.NoError(t, err)

	require.Len(t, h.audit.events, 3)
	assert.Equal(t, "alert.created", h.audit.events[0].Action)
	assert.Equal(t, "alert.acknowledged", h.audit.events[1].Action)
	assert.Equal(t, "alert.resolved", h.audit.events[2].Action)
	for _, e := range h.audit.events {
		assert.Equal(t, core.AuditSystem, e.EventType)
		assert.Equal(t, alert.ID, e.ResourceID)
	}
}

func TestGetStats(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{})
	ctx := context.Background()

	mk := func(typ string, sev core.Severity) *core.Alert {
		a, err := h.manager.CreateAlert(ctx, &CreateAlertRequest{Type: typ, Title: typ, Severity: sev})
		require.NoError(t, err)
		return a
	}

	mk("cpu", core.SeverityWarning)
	mk("disk", core.SeverityError)
	acked := mk("mem", core.SeverityError)
	resolved := mk("net", core.SeverityCritical)

	_, err := h.manager.Acknowledge(ctx, acked.ID, "op-1")
	require.NoError(t, err)
	_, err = h.manager.Resolve(ctx, resolved.ID)
	require.NoError(t, err)

	stats, err := h.manager.GetStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, 2, stats.ByStatus[core.AlertStatusActive])
	assert.Equal(t, 1, stats.ByStatus[core.AlertStatusAcknowledged])
	assert.Zero(t, stats.ByStatus[core.AlertStatusResolved])
	assert.Equal(t, 1, stats.BySeverity[core.SeverityWarning])
	assert.Equal(t, 2, stats.BySeverity[core.SeverityError])
	assert.Zero(t, stats.BySeverity[core.SeverityCritical])
}

func TestCrisisAlertCarriesRecurrenceCount(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{CrisisEnabled: true})
	ctx := context.Background()

	req := &CreateAlertRequest{Type: "safety_check", Severity: core.SeverityError, Title: "Safety check failed", Source: "monitor"}
	_, err := h.manager.CreateAlert(ctx, req)
	require.NoError(t, err)
	h.advance(time.Hour)
	_, err = h.manager.CreateAlert(ctx, req)
	require.NoError(t, err)

	h.advance(time.Hour)
	crisis, err := h.manager.CreateAlert(ctx, &CreateAlertRequest{
		Type: "safety_check", Severity: core.SeverityCrisis, Title: "Safety check failed", Source: "monitor",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, crisis.Metadata["recent_occurrences"])

	// a first firing carries no recurrence marker
	fresh, err := h.manager.CreateAlert(ctx, &CreateAlertRequest{
		Type: "other_incident", Severity: core.SeverityCrisis, Title: "Other incident", Source: "monitor",
	})
	require.NoError(t, err)
	_, ok := fresh.Metadata["recent_occurrences"]
	assert.False(t, ok)
}

func TestEvaluateMetricWindowedCondition(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{})
	require.NoError(t, h.manager.AddRule(&core.AlertRule{
		ID: "r-2", Name: "error_rate_high", Enabled: true,
		Severity: core.SeverityError,
		Conditions: []core.RuleCondition{
			{Metric: "error_rate", Operator: "gt", Threshold: 5, Window: 5 * time.Minute, MinDataPoints: 3},
		},
	}))
	ctx := context.Background()

	// two breaching samples are below the data point floor
	for i := 0; i < 2; i++ {
		alert, err := h.manager.EvaluateMetric(ctx, "error_rate_high", "error_rate", 8)
		require.NoError(t, err)
		assert.Nil(t, alert)
		h.advance(time.Minute)
	}

	// the third sustained breach fires
	alert, err := h.manager.EvaluateMetric(ctx, "error_rate_high", "error_rate", 9)
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, "error_rate_high", alert.Type)
}

func TestEvaluateMetricWindowResetByHealthySample(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{})
	require.NoError(t, h.manager.AddRule(&core.AlertRule{
		ID: "r-3", Name: "latency_high", Enabled: true,
		Severity: core.SeverityWarning,
		Conditions: []core.RuleCondition{
			{Metric: "p99_ms", Operator: "gte", Threshold: 500, Window: 10 * time.Minute, MinDataPoints: 2},
		},
	}))
	ctx := context.Background()

	evaluate := func(v float64) *core.Alert {
		t.Helper()
		alert, err := h.manager.EvaluateMetric(ctx, "latency_high", "p99_ms", v)
		require.NoError(t, err)
		h.advance(time.Minute)
		return alert
	}

	assert.Nil(t, evaluate(600))
	// a healthy sample inside the window holds the condition back
	assert.Nil(t, evaluate(200))
	assert.Nil(t, evaluate(700))
	assert.Nil(t, evaluate(650))

	// once the healthy sample ages out of the window the breach fires
	h.advance(8 * time.Minute)
	assert.NotNil(t, evaluate(800))
}

func TestEvaluateMetricWindowPrunesStaleSamples(t *testing.T) {
	h := newTestManager(t, config.AlertsConfig{})
	require.NoError(t, h.manager.AddRule(&core.AlertRule{
		ID: "r-4", Name: "queue_depth_high", Enabled: true,
		Severity: core.SeverityWarning,
		Conditions: []core.RuleCondition{
			{Metric: "queue_depth", Operator: "gt", Threshold: 100, Window: 5 * time.Minute, MinDataPoints: 2},
		},
	}))
	ctx := context.Background()

	alert, err := h.manager.EvaluateMetric(ctx, "queue_depth_high", "queue_depth", 150)
	require.NoError(t, err)
	assert.Nil(t, alert)

	// the first sample falls out of the window before the second arrives
	h.advance(10 * time.Minute)
	alert, err = h.manager.EvaluateMetric(ctx, "queue_depth_high", "queue_depth", 180)
	require.NoError(t, err)
	assert.Nil(t, alert)
}
