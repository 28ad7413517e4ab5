// Package alert owns alert rules and the alert lifecycle: fingerprint
// deduplication, cooldown and suppression windows, channel fan-out and
// multi-level escalation of unacknowledged incidents.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"argus/config"
	"argus/core"
	"argus/metrics"
	"argus/storage"
	"argus/util/goroutine"
)

var tracer = otel.Tracer("argus/alert")

// recurrenceWindow bounds the prior-firing lookup attached to crisis alerts
const recurrenceWindow = 24 * time.Hour

var (
	// ErrMissingType is returned when a create request has no alert type
	ErrMissingType = errors.New("alert type is required")
	// ErrMissingTitle is returned when a create request has no title
	ErrMissingTitle = errors.New("alert title is required")
	// ErrMissingActor is returned when an acknowledgement has no actor id
	ErrMissingActor = errors.New("actor id is required")
)

// Notifier fans an alert out to named channels. Implementations must isolate
// per-channel failures; Dispatch never reports them to the caller. A nil
// channel list means every enabled channel.
type Notifier interface {
	Dispatch(ctx context.Context, alert *core.Alert, channels []string)
}

// AuditSink records alert lifecycle transitions on the audit trail
type AuditSink interface {
	LogEvent(ctx context.Context, event *core.AuditEvent) (*core.AuditEvent, error)
}

// CreateAlertRequest is the alert ingestion payload
type CreateAlertRequest struct {
	Type      string
	Severity  core.Severity
	Title     string
	Message   string
	Source    string
	Metadata  map[string]interface{}
	IsCrisis  bool
	UserID    string
	RiskLevel string
}

// Manager implements the alert lifecycle
type Manager struct {
	cfg      config.AlertsConfig
	store    storage.AlertStore
	suppress storage.SuppressionStore
	notifier Notifier
	audit    AuditSink
	logger   *zap.SugaredLogger

	mu    sync.RWMutex
	rules map[string]*core.AlertRule

	samplesMu sync.Mutex
	samples   map[string][]metricSample

	sched  *escalationScheduler
	stopCh chan struct{}
	wg     sync.WaitGroup

	// now is swapped out in tests
	now func() time.Time
}

// NewManager creates an alert manager. Rules from cfg.RulesFile, if set, are
// loaded before the manager is returned.
func NewManager(cfg config.AlertsConfig, store storage.AlertStore, suppress storage.SuppressionStore, notifier Notifier, audit AuditSink, logger *zap.SugaredLogger) (*Manager, error) {
	m := &Manager{
		cfg:      cfg,
		store:    store,
		suppress: suppress,
		notifier: notifier,
		audit:    audit,
		logger:   logger,
		rules:    make(map[string]*core.AlertRule),
		samples:  make(map[string][]metricSample),
		sched:    newEscalationScheduler(),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}

	if cfg.RulesFile != "" {
		rules, err := LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load alert rules: %w", err)
		}
		for _, rule := range rules {
			m.rules[rule.Name] = rule
		}
		logger.Infof("Loaded %d alert rules from %s", len(rules), cfg.RulesFile)
	}

	return m, nil
}

// Start launches the escalation sweep loop
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer goroutine.Recover("alert-escalation-sweep", m.logger)

		ticker := time.NewTicker(m.cfg.EscalationSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sweepEscalations(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the escalation sweep loop
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// AddRule registers or replaces a rule, keyed by rule name
func (m *Manager) AddRule(rule *core.AlertRule) error {
	if rule == nil || rule.Name == "" {
		return errors.New("rule name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.Name] = rule
	return nil
}

// RemoveRule removes a rule by name along with its retained metric samples
func (m *Manager) RemoveRule(name string) {
	m.mu.Lock()
	delete(m.rules, name)
	m.mu.Unlock()

	m.samplesMu.Lock()
	defer m.samplesMu.Unlock()
	for key := range m.samples {
		if strings.HasPrefix(key, name+"|") {
			delete(m.samples, key)
		}
	}
}

// Rule returns the rule bound to an alert type, or nil
func (m *Manager) Rule(alertType string) *core.AlertRule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules[alertType]
}

// EvaluateMetric checks a metric sample against a rule's conditions and
// creates an alert when a condition is breached. A condition with a window
// must hold across every sample seen inside it, with at least MinDataPoints
// samples, before it fires. An unknown or disabled rule is a no-op, not an
// error.
func (m *Manager) EvaluateMetric(ctx context.Context, ruleName, metric string, value float64) (*core.Alert, error) {
	rule := m.Rule(ruleName)
	if rule == nil || !rule.Enabled {
		return nil, nil
	}

	for i, cond := range rule.Conditions {
		if cond.Metric != metric || !m.conditionMet(ruleName, i, cond, value) {
			continue
		}
		return m.CreateAlert(ctx, &CreateAlertRequest{
			Type:     rule.Name,
			Severity: rule.Severity,
			Title:    fmt.Sprintf("%s threshold breached", metric),
			Message:  fmt.Sprintf("%s is %.2f (%s %.2f)", metric, value, cond.Operator, cond.Threshold),
			Source:   "rule-engine",
			Metadata: map[string]interface{}{"metric": metric},
		})
	}
	return nil, nil
}

type metricSample struct {
	at    time.Time
	value float64
}

// conditionMet records the sample for windowed conditions and reports
// whether the condition fires. Windowless conditions are point-in-time.
func (m *Manager) conditionMet(ruleName string, condIndex int, cond core.RuleCondition, value float64) bool {
	if cond.Window <= 0 {
		return conditionBreached(cond, value)
	}

	key := fmt.Sprintf("%s|%s|%d", ruleName, cond.Metric, condIndex)
	now := m.now()

	m.samplesMu.Lock()
	defer m.samplesMu.Unlock()

	kept := m.samples[key][:0]
	for _, s := range m.samples[key] {
		if now.Sub(s.at) <= cond.Window {
			kept = append(kept, s)
		}
	}
	kept = append(kept, metricSample{at: now, value: value})
	m.samples[key] = kept

	min := cond.MinDataPoints
	if min < 1 {
		min = 1
	}
	if len(kept) < min {
		return false
	}
	for _, s := range kept {
		if !conditionBreached(cond, s.value) {
			return false
		}
	}
	return true
}

func conditionBreached(cond core.RuleCondition, value float64) bool {
	switch cond.Operator {
	case "gt":
		return value > cond.Threshold
	case "gte":
		return value >= cond.Threshold
	case "lt":
		return value < cond.Threshold
	case "lte":
		return value <= cond.Threshold
	case "eq":
		return value == cond.Threshold
	default:
		return false
	}
}

// CreateAlert runs the deduplication pipeline and returns the created alert.
// A request inside a suppression window or cooldown yields a suppressed
// alert that is recorded but not notified. Crisis alerts bypass throttling.
func (m *Manager) CreateAlert(ctx context.Context, req *CreateAlertRequest) (*core.Alert, error) {
	if req == nil || req.Type == "" {
		return nil, ErrMissingType
	}
	if req.Title == "" {
		return nil, ErrMissingTitle
	}
	if req.Severity == "" {
		req.Severity = core.SeverityInfo
	}
	if !req.Severity.IsValid() {
		return nil, fmt.Errorf("invalid severity: %s", req.Severity)
	}

	ctx, span := tracer.Start(ctx, "alert.create", trace.WithAttributes(
		attribute.String("alert.type", req.Type),
		attribute.String("alert.severity", string(req.Severity)),
	))
	defer span.End()

	fingerprint := core.AlertFingerprint(req.Type, req.Source, req.Metadata)

	if m.isCrisis(req) {
		return m.createCrisisAlert(ctx, req, fingerprint)
	}

	rule := m.Rule(req.Type)

	throttled, err := m.isThrottled(ctx, req.Type, fingerprint, rule)
	if err != nil {
		m.logger.Warnf("Suppression check failed for %s, treating as not throttled: %v", req.Type, err)
	}
	if throttled {
		alert := m.buildAlert(req, fingerprint, core.AlertStatusSuppressed)
		if err := m.store.InsertAlert(ctx, alert); err != nil {
			return nil, fmt.Errorf("failed to record suppressed alert: %w", err)
		}
		metrics.AlertsCreated.WithLabelValues(string(alert.Severity), string(alert.Status)).Inc()
		m.recordAudit(ctx, alert, "alert.suppressed", "Alert suppressed by cooldown or suppression window")
		return alert, nil
	}

	alert := m.buildAlert(req, fingerprint, core.AlertStatusActive)
	if err := m.store.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}
	metrics.AlertsCreated.WithLabelValues(string(alert.Severity), string(alert.Status)).Inc()

	if err := m.suppress.RecordFiring(ctx, req.Type, m.now(), m.cooldownFor(rule)); err != nil {
		m.logger.Warnf("Failed to record firing time for %s: %v", req.Type, err)
	}
	if m.cfg.SuppressionEnabled && m.cfg.SuppressionWindow > 0 {
		if err := m.suppress.Suppress(ctx, fingerprint, m.cfg.SuppressionWindow); err != nil {
			m.logger.Warnf("Failed to open suppression window for %s: %v", fingerprint, err)
		}
	}

	m.notifier.Dispatch(ctx, alert, ruleChannels(rule))

	if rule != nil && rule.Escalation != nil {
		if first := rule.Escalation.LevelFor(1); first != nil {
			m.sched.arm(alert.ID, m.now().Add(first.Delay))
		}
	}

	m.recordAudit(ctx, alert, "alert.created", "Alert created and dispatched")
	return alert, nil
}

func (m *Manager) isCrisis(req *CreateAlertRequest) bool {
	if !m.cfg.CrisisEnabled {
		return false
	}
	return req.IsCrisis || req.Severity == core.SeverityCrisis
}

// createCrisisAlert skips cooldown and suppression entirely and dispatches
// straight to the crisis channels
func (m *Manager) createCrisisAlert(ctx context.Context, req *CreateAlertRequest, fingerprint string) (*core.Alert, error) {
	alert := m.buildAlert(req, fingerprint, core.AlertStatusActive)
	alert.IsCrisis = true

	// How often this fingerprint fired in the last day tells responders
	// whether they are looking at a recurrence
	window := m.now().Add(-recurrenceWindow)
	if prior, err := m.store.FindAlertsByFingerprint(ctx, fingerprint, window); err != nil {
		m.logger.Warnf("Failed to look up prior alerts for fingerprint %s: %v", fingerprint, err)
	} else if len(prior) > 0 {
		meta := make(map[string]interface{}, len(alert.Metadata)+1)
		for k, v := range alert.Metadata {
			meta[k] = v
		}
		meta["recent_occurrences"] = len(prior)
		alert.Metadata = meta
	}

	if err := m.store.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to create crisis alert: %w", err)
	}
	metrics.AlertsCreated.WithLabelValues(string(alert.Severity), string(alert.Status)).Inc()

	channels := m.cfg.CrisisChannels
	if len(channels) == 0 {
		channels = nil // all enabled channels
	}
	m.notifier.Dispatch(ctx, alert, channels)

	if rule := m.Rule(req.Type); rule != nil && rule.Escalation != nil {
		if first := rule.Escalation.LevelFor(1); first != nil {
			m.sched.arm(alert.ID, m.now().Add(first.Delay))
		}
	}

	m.recordAudit(ctx, alert, "alert.crisis", "Crisis alert dispatched, throttling bypassed")
	return alert, nil
}

func (m *Manager) buildAlert(req *CreateAlertRequest, fingerprint string, status core.AlertStatus) *core.Alert {
	alert := core.NewAlert(req.Type, req.Severity, status)
	alert.Title = req.Title
	alert.Message = req.Message
	alert.Source = req.Source
	alert.Metadata = req.Metadata
	alert.Fingerprint = fingerprint
	alert.IsCrisis = req.IsCrisis
	alert.UserID = req.UserID
	alert.RiskLevel = req.RiskLevel
	alert.Timestamp = m.now().UTC()
	return alert
}

// isThrottled reports whether the request falls inside the fingerprint's
// suppression window or the type's cooldown
func (m *Manager) isThrottled(ctx context.Context, alertType, fingerprint string, rule *core.AlertRule) (bool, error) {
	if m.cfg.SuppressionEnabled {
		suppressed, err := m.suppress.IsSuppressed(ctx, fingerprint)
		if err != nil {
			return false, err
		}
		if suppressed {
			return true, nil
		}
	}

	cooldown := m.cooldownFor(rule)
	if cooldown <= 0 {
		return false, nil
	}
	last, ok, err := m.suppress.LastFiring(ctx, alertType)
	if err != nil {
		return false, err
	}
	return ok && m.now().Sub(last) < cooldown, nil
}

func (m *Manager) cooldownFor(rule *core.AlertRule) time.Duration {
	if rule != nil && rule.Cooldown > 0 {
		return rule.Cooldown
	}
	return m.cfg.DefaultCooldown
}

func ruleChannels(rule *core.AlertRule) []string {
	if rule == nil {
		return nil
	}
	return rule.Channels
}

// Acknowledge transitions an active alert to acknowledged and halts its
// escalation chain. The actor id is required.
func (m *Manager) Acknowledge(ctx context.Context, alertID, actor string) (*core.Alert, error) {
	if actor == "" {
		return nil, ErrMissingActor
	}

	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if err := alert.TransitionTo(core.AlertStatusAcknowledged); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	alert.AcknowledgedBy = actor
	alert.AcknowledgedAt = &now
	if err := m.store.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	m.sched.cancel(alert.ID)
	m.recordAudit(ctx, alert, "alert.acknowledged", fmt.Sprintf("Alert acknowledged by %s", actor))
	return alert, nil
}

// Resolve transitions an alert to resolved and halts its escalation chain.
// Resolutions of error-or-worse alerts emit a summary notification.
func (m *Manager) Resolve(ctx context.Context, alertID string) (*core.Alert, error) {
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if err := alert.TransitionTo(core.AlertStatusResolved); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	alert.ResolvedAt = &now
	if err := m.store.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}

	m.sched.cancel(alert.ID)

	if alert.Severity.AtLeast(core.SeverityError) {
		m.notifyResolution(ctx, alert)
	}

	m.recordAudit(ctx, alert, "alert.resolved", fmt.Sprintf("Alert resolved after %s", alert.Duration(now).Round(time.Second)))
	return alert, nil
}

func (m *Manager) notifyResolution(ctx context.Context, alert *core.Alert) {
	resolution := *alert
	resolution.Severity = core.SeverityInfo
	resolution.Title = fmt.Sprintf("Resolved: %s", alert.Title)
	resolution.Message = fmt.Sprintf("Alert %q resolved after %s", alert.Title, alert.Duration(m.now()).Round(time.Second))
	m.notifier.Dispatch(ctx, &resolution, ruleChannels(m.Rule(alert.Type)))
}

// GetAlert returns an alert by id
func (m *Manager) GetAlert(ctx context.Context, alertID string) (*core.Alert, error) {
	return m.store.GetAlert(ctx, alertID)
}

// ListAlerts returns alerts with the given status; empty status matches all
func (m *Manager) ListAlerts(ctx context.Context, status core.AlertStatus) ([]*core.Alert, error) {
	return m.store.ListAlerts(ctx, status)
}

// Stats is a point-in-time summary of the active alert population
type Stats struct {
	Active     int                      `json:"active"`
	BySeverity map[core.Severity]int    `json:"by_severity"`
	ByStatus   map[core.AlertStatus]int `json:"by_status"`
}

// GetStats counts unresolved alerts by severity and status
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	alerts, err := m.store.ListAlerts(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	stats := &Stats{
		BySeverity: make(map[core.Severity]int),
		ByStatus:   make(map[core.AlertStatus]int),
	}
	for _, a := range alerts {
		if a.Status == core.AlertStatusResolved {
			continue
		}
		stats.ByStatus[a.Status]++
		stats.BySeverity[a.Severity]++
		if a.Status == core.AlertStatusActive {
			stats.Active++
		}
	}
	return stats, nil
}

// sweepEscalations fires every escalation whose due time has passed
func (m *Manager) sweepEscalations(ctx context.Context) {
	for _, alertID := range m.sched.due(m.now()) {
		m.escalate(ctx, alertID)
	}
}

// escalate advances one alert a single escalation level. Escalation only
// applies while the alert is still active; any other status drops the
// pending entry.
func (m *Manager) escalate(ctx context.Context, alertID string) {
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		m.logger.Warnf("Dropping escalation for missing alert %s: %v", alertID, err)
		m.sched.cancel(alertID)
		return
	}
	if alert.Status != core.AlertStatusActive {
		m.sched.cancel(alertID)
		return
	}

	rule := m.Rule(alert.Type)
	if rule == nil || rule.Escalation == nil {
		m.sched.cancel(alertID)
		return
	}

	next := alert.EscalationLevel + 1
	if m.cfg.MaxEscalations > 0 && next > m.cfg.MaxEscalations {
		m.sched.cancel(alertID)
		return
	}
	level := rule.Escalation.LevelFor(next)
	if level == nil {
		m.sched.cancel(alertID)
		return
	}

	alert.EscalationLevel = next
	if err := m.store.UpdateAlert(ctx, alert); err != nil {
		m.logger.Errorf("Failed to persist escalation of alert %s: %v", alertID, err)
		return
	}
	metrics.AlertsEscalated.WithLabelValues(fmt.Sprintf("%d", next)).Inc()

	m.notifier.Dispatch(ctx, alert, level.Channels)
	m.recordAudit(ctx, alert, "alert.escalated", fmt.Sprintf("Alert escalated to level %d", next))

	if following := rule.Escalation.LevelFor(next + 1); following != nil &&
		(m.cfg.MaxEscalations == 0 || next+1 <= m.cfg.MaxEscalations) {
		m.sched.arm(alertID, m.now().Add(following.Delay))
	} else {
		m.sched.cancel(alertID)
	}
}

func (m *Manager) recordAudit(ctx context.Context, alert *core.Alert, action, description string) {
	if m.audit == nil {
		return
	}

	event := core.NewAuditEvent(core.AuditSystem, action)
	event.Description = description
	event.Outcome = core.OutcomeSuccess
	event.ResourceType = "alert"
	event.ResourceID = alert.ID
	event.UserID = alert.UserID
	event.Details = map[string]interface{}{
		"alert_type": alert.Type,
		"severity":   string(alert.Severity),
		"status":     string(alert.Status),
	}

	if _, err := m.audit.LogEvent(ctx, event); err != nil {
		m.logger.Warnf("Failed to audit %s for alert %s: %v", action, alert.ID, err)
	}
}
