// Package errtrack captures raw errors, samples and filters them, groups
// occurrences by fingerprint with rolling trend counters, and raises alert
// requests when capture thresholds are crossed.
package errtrack

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"argus/alert"
	"argus/config"
	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"
)

// ErrNilError is returned when CaptureError is called with a nil error
var ErrNilError = errors.New("cannot capture nil error")

// AlertSink receives the alert requests raised by threshold breaches
type AlertSink interface {
	CreateAlert(ctx context.Context, req *alert.CreateAlertRequest) (*core.Alert, error)
}

// AuditSink records captures on the audit trail
type AuditSink interface {
	LogEvent(ctx context.Context, event *core.AuditEvent) (*core.AuditEvent, error)
}

// BeforeCapture is an optional caller-supplied veto transform. It may mutate
// the capture or return nil to drop it.
type BeforeCapture func(info *core.ErrorInfo) *core.ErrorInfo

// Tracker implements error capture and fingerprint grouping
type Tracker struct {
	cfg           config.ErrorsConfig
	filter        *ignoreFilter
	breadcrumbs   *breadcrumbTrail
	beforeCapture BeforeCapture
	alerts        AlertSink
	audit         AuditSink
	logger        *zap.SugaredLogger

	mu       sync.RWMutex
	errors   map[string]*core.ErrorInfo
	groups   map[string]*core.ErrorGroup
	captures []time.Time // rolling capture times for the rate alert

	stopCh chan struct{}
	wg     sync.WaitGroup

	// test seams
	now    func() time.Time
	sample func() float64
}

// NewTracker creates an error tracker. beforeCapture may be nil.
func NewTracker(cfg config.ErrorsConfig, alerts AlertSink, audit AuditSink, beforeCapture BeforeCapture, logger *zap.SugaredLogger) (*Tracker, error) {
	filter, err := newIgnoreFilter(cfg)
	if err != nil {
		return nil, err
	}

	return &Tracker{
		cfg:           cfg,
		filter:        filter,
		breadcrumbs:   newBreadcrumbTrail(cfg.MaxBreadcrumbs, cfg.BreadcrumbMaxAge),
		beforeCapture: beforeCapture,
		alerts:        alerts,
		audit:         audit,
		logger:        logger,
		errors:        make(map[string]*core.ErrorInfo),
		groups:        make(map[string]*core.ErrorGroup),
		stopCh:        make(chan struct{}),
		now:           time.Now,
		sample:        rand.Float64,
	}, nil
}

// Start launches the retention cleanup loop
func (t *Tracker) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer goroutine.Recover("errtrack-cleanup", t.logger)

		ticker := time.NewTicker(t.cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.Cleanup()
			case <-t.stopCh:
				return
			}
		}
	}()
}

// Stop halts the cleanup loop
func (t *Tracker) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

// AddBreadcrumb appends a contextual event to the global trail
func (t *Tracker) AddBreadcrumb(crumb core.Breadcrumb) {
	t.breadcrumbs.add(crumb)
}

// CaptureError captures a Go error. Returns nil when the capture was
// sampled out, filtered, or vetoed.
func (t *Tracker) CaptureError(ctx context.Context, err error, errCtx core.ErrorContext) (*core.ErrorInfo, error) {
	if err == nil {
		return nil, ErrNilError
	}
	// skip debug.Stack, captureStack and CaptureError itself
	return t.capture(ctx, err.Error(), fmt.Sprintf("%T", err), captureStack(3), "", errCtx), nil
}

// captureStack drops the "goroutine N [running]:" header and skip leading
// frames, so neither the goroutine number nor the capture machinery leaks
// into fingerprints. With the machinery frames gone the first line is the
// call site that raised the error.
func captureStack(skip int) string {
	lines := strings.Split(string(debug.Stack()), "\n")
	// one header line, then two lines per frame
	drop := 1 + 2*skip
	if drop >= len(lines) {
		return ""
	}
	return strings.Join(lines[drop:], "\n")
}

// CaptureMessage captures a message-only error with an explicit type
func (t *Tracker) CaptureMessage(ctx context.Context, message, errType string, errCtx core.ErrorContext) (*core.ErrorInfo, error) {
	if message == "" {
		return nil, errors.New("cannot capture empty message")
	}
	if errType == "" {
		errType = "message"
	}
	return t.capture(ctx, message, errType, "", "", errCtx), nil
}

// CaptureWithSeverity captures with a caller-supplied severity instead of
// the heuristic one
func (t *Tracker) CaptureWithSeverity(ctx context.Context, message, errType string, severity core.ErrorSeverity, errCtx core.ErrorContext) (*core.ErrorInfo, error) {
	if message == "" {
		return nil, errors.New("cannot capture empty message")
	}
	return t.capture(ctx, message, errType, "", severity, errCtx), nil
}

func (t *Tracker) capture(ctx context.Context, message, errType, stack string, severity core.ErrorSeverity, errCtx core.ErrorContext) *core.ErrorInfo {
	if t.cfg.SampleRate < 1 && t.sample() >= t.cfg.SampleRate {
		metrics.ErrorsDropped.WithLabelValues("sampled").Inc()
		return nil
	}

	info := core.NewErrorInfo(message, errType)
	info.Timestamp = t.now().UTC()
	info.Stack = stack
	info.Context = errCtx
	if severity == "" {
		severity = deriveSeverity(message, errType)
	}
	info.Severity = severity
	info.Fingerprint = core.ErrorFingerprint(message, errType, errCtx.Component, stack)
	info.Breadcrumbs = t.breadcrumbs.snapshot()

	if ignored, reason := t.filter.shouldIgnore(info); ignored {
		metrics.ErrorsDropped.WithLabelValues(reason).Inc()
		return nil
	}

	if t.beforeCapture != nil {
		info = t.beforeCapture(info)
		if info == nil {
			metrics.ErrorsDropped.WithLabelValues("vetoed").Inc()
			return nil
		}
	}

	group := t.record(info)
	metrics.ErrorsCaptured.WithLabelValues(string(info.Severity)).Inc()

	t.recordAudit(ctx, info)
	t.evaluateThresholds(ctx, info, group)

	return info
}

// record stores the occurrence and folds it into its group
func (t *Tracker) record(info *core.ErrorInfo) *core.ErrorGroup {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.errors[info.ID] = info

	group, ok := t.groups[info.Fingerprint]
	if !ok {
		group = core.NewErrorGroup(info)
		t.groups[info.Fingerprint] = group
	}
	group.Record(info, t.cfg.MaxGroupSamples)

	t.captures = append(t.captures, info.Timestamp)
	cutoff := t.now().Add(-t.cfg.RateWindow)
	i := 0
	for i < len(t.captures) && t.captures[i].Before(cutoff) {
		i++
	}
	t.captures = t.captures[i:]

	return group
}

// deriveSeverity classifies an error from its message and type when the
// caller supplies none
func deriveSeverity(message, errType string) core.ErrorSeverity {
	text := strings.ToLower(message + " " + errType)

	switch {
	case containsAnyOf(text, "timeout", "timed out", "connection", "unreachable", "econnrefused", "dial tcp",
		"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable"):
		return core.ErrorSeverityCritical
	case containsAnyOf(text, "unauthorized", "forbidden", "401", "403", "auth", "permission denied"):
		return core.ErrorSeverityHigh
	case containsAnyOf(text, "validation", "invalid", "bad request", "not found", "400", "404", "409", "422"):
		return core.ErrorSeverityMedium
	default:
		return core.ErrorSeverityLow
	}
}

func containsAnyOf(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// evaluateThresholds raises alert requests for critical errors, elevated
// overall error rates, and per-fingerprint spikes
func (t *Tracker) evaluateThresholds(ctx context.Context, info *core.ErrorInfo, group *core.ErrorGroup) {
	if t.alerts == nil {
		return
	}

	if info.Severity == core.ErrorSeverityCritical {
		t.requestAlert(ctx, &alert.CreateAlertRequest{
			Type:     "critical_error",
			Severity: core.SeverityCritical,
			Title:    "Critical error captured",
			Message:  info.Message,
			Source:   info.Context.Component,
			Metadata: map[string]interface{}{"fingerprint": info.Fingerprint, "error_type": info.Type},
			UserID:   info.Context.UserID,
		})
	}

	t.mu.RLock()
	rate := len(t.captures)
	t.mu.RUnlock()
	if rate > t.cfg.RateThreshold {
		t.requestAlert(ctx, &alert.CreateAlertRequest{
			Type:     "error_rate",
			Severity: core.SeverityError,
			Title:    "Error rate threshold exceeded",
			Message:  fmt.Sprintf("%d errors captured in the last %s", rate, t.cfg.RateWindow),
			Source:   "error-tracker",
		})
	}

	t.mu.RLock()
	recent := group.RecentCount(t.now().Add(-t.cfg.RateWindow))
	total := group.Count
	t.mu.RUnlock()
	if recent >= t.cfg.SpikeMinOccurrences && total >= t.cfg.SpikeMinGroupTotal {
		t.requestAlert(ctx, &alert.CreateAlertRequest{
			Type:     "error_spike",
			Severity: core.SeverityError,
			Title:    "Error spike detected",
			Message:  fmt.Sprintf("%d occurrences of %s in the last %s (%d total)", recent, info.Fingerprint, t.cfg.RateWindow, total),
			Source:   "error-tracker",
			Metadata: map[string]interface{}{"fingerprint": info.Fingerprint},
		})
	}
}

func (t *Tracker) requestAlert(ctx context.Context, req *alert.CreateAlertRequest) {
	if _, err := t.alerts.CreateAlert(ctx, req); err != nil {
		t.logger.Warnf("Failed to raise %s alert: %v", req.Type, err)
	}
}

func (t *Tracker) recordAudit(ctx context.Context, info *core.ErrorInfo) {
	if t.audit == nil {
		return
	}

	event := core.NewAuditEvent(core.AuditSystem, "error.captured")
	event.Description = fmt.Sprintf("Error captured: %s", core.NormalizeErrorMessage(info.Message))
	event.UserID = info.Context.UserID
	event.SessionID = info.Context.SessionID
	event.SourceIP = info.Context.RemoteIP
	event.Details = map[string]interface{}{
		"fingerprint": info.Fingerprint,
		"severity":    string(info.Severity),
		"error_type":  info.Type,
	}

	if _, err := t.audit.LogEvent(ctx, event); err != nil {
		t.logger.Warnf("Failed to audit error capture %s: %v", info.ID, err)
	}
}

// GetError returns a captured occurrence by id
func (t *Tracker) GetError(id string) (*core.ErrorInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.errors[id]
	return info, ok
}

// GetGroup returns the group for a fingerprint
func (t *Tracker) GetGroup(fingerprint string) (*core.ErrorGroup, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	group, ok := t.groups[fingerprint]
	return group, ok
}

// Groups returns all live groups
func (t *Tracker) Groups() []*core.ErrorGroup {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*core.ErrorGroup, 0, len(t.groups))
	for _, g := range t.groups {
		out = append(out, g)
	}
	return out
}

// ResolveError marks one occurrence resolved
func (t *Tracker) ResolveError(id, by string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.errors[id]
	if !ok {
		return fmt.Errorf("error %s not found", id)
	}
	now := t.now().UTC()
	info.Resolved = true
	info.ResolvedAt = &now
	info.ResolvedBy = by
	return nil
}

// ResolveGroup marks a group and its retained samples resolved
func (t *Tracker) ResolveGroup(fingerprint, by string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	group, ok := t.groups[fingerprint]
	if !ok {
		return fmt.Errorf("error group %s not found", fingerprint)
	}
	group.Status = "resolved"
	now := t.now().UTC()
	for _, sample := range group.Samples {
		if !sample.Resolved {
			sample.Resolved = true
			sample.ResolvedAt = &now
			sample.ResolvedBy = by
		}
	}
	return nil
}

// Cleanup evicts occurrences past the retention window and drops groups
// left with no retained samples
func (t *Tracker) Cleanup() {
	cutoff := t.now().Add(-time.Duration(t.cfg.RetentionDays) * 24 * time.Hour)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, info := range t.errors {
		if info.Timestamp.Before(cutoff) {
			delete(t.errors, id)
			removed++
		}
	}

	for fp, group := range t.groups {
		kept := group.Samples[:0]
		for _, sample := range group.Samples {
			if !sample.Timestamp.Before(cutoff) {
				kept = append(kept, sample)
			}
		}
		group.Samples = kept
		if len(group.Samples) == 0 && group.LastSeen.Before(cutoff) {
			delete(t.groups, fp)
		}
	}

	if removed > 0 {
		t.logger.Infof("Evicted %d errors past retention", removed)
	}
}
