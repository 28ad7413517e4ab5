package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"
)

// Compliance detector rule names
const (
	RuleRepeatedFailedLogins = "repeated_failed_logins"
	RuleUnjustifiedAccess    = "unjustified_sensitive_access"
)

// ViolationHandler receives findings from the background detector.
// Violations are emitted for review, never hard failures.
type ViolationHandler func(violation *core.ComplianceViolation)

// StartDetector launches the background compliance scan loop. Findings go
// to the handler; a nil handler only logs them.
func (s *Service) StartDetector(handler ViolationHandler) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer goroutine.Recover("audit-compliance-detector", s.logger)

		ticker := time.NewTicker(s.cfg.DetectorInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				violations, err := s.DetectViolations(context.Background())
				if err != nil {
					s.logger.Errorf("Compliance scan failed: %v", err)
					continue
				}
				for _, v := range violations {
					metrics.ComplianceViolations.WithLabelValues(v.Rule).Inc()
					s.logger.Warnf("Compliance violation %s for user %s: %s", v.Rule, v.UserID, v.Detail)
					if handler != nil {
						handler(v)
					}
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// DetectViolations runs one compliance scan over the recent trail
func (s *Service) DetectViolations(ctx context.Context) ([]*core.ComplianceViolation, error) {
	now := s.now()
	var violations []*core.ComplianceViolation

	repeated, err := s.detectRepeatedFailedLogins(ctx, now)
	if err != nil {
		return nil, err
	}
	violations = append(violations, repeated...)

	unjustified, err := s.detectUnjustifiedAccess(ctx, now)
	if err != nil {
		return nil, err
	}
	violations = append(violations, unjustified...)

	return violations, nil
}

// detectRepeatedFailedLogins flags actors with too many failed logins
// inside the configured window
func (s *Service) detectRepeatedFailedLogins(ctx context.Context, now time.Time) ([]*core.ComplianceViolation, error) {
	events, err := s.store.QueryAuditEvents(ctx, &core.AuditFilter{
		EventTypes: []core.AuditEventType{core.AuditLoginFailed},
		Start:      now.Add(-s.cfg.FailedLoginWindow),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query failed logins: %w", err)
	}

	byUser := make(map[string][]string)
	for _, e := range events {
		if e.UserID == "" {
			continue
		}
		byUser[e.UserID] = append(byUser[e.UserID], e.ID)
	}

	var violations []*core.ComplianceViolation
	for userID, ids := range byUser {
		if len(ids) < s.cfg.FailedLoginThreshold {
			continue
		}
		violations = append(violations, &core.ComplianceViolation{
			ID:         uuid.New().String(),
			Rule:       RuleRepeatedFailedLogins,
			UserID:     userID,
			Detail:     fmt.Sprintf("%d failed logins within %s", len(ids), s.cfg.FailedLoginWindow),
			EventIDs:   ids,
			DetectedAt: now.UTC(),
		})
	}
	return violations, nil
}

// detectUnjustifiedAccess flags reads and exports of protected data that
// carry no recorded justification
func (s *Service) detectUnjustifiedAccess(ctx context.Context, now time.Time) ([]*core.ComplianceViolation, error) {
	events, err := s.store.QueryAuditEvents(ctx, &core.AuditFilter{
		EventTypes: []core.AuditEventType{core.AuditDataRead, core.AuditDataExport},
		Start:      now.Add(-s.cfg.DetectorInterval),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query sensitive access: %w", err)
	}

	var violations []*core.ComplianceViolation
	for _, e := range events {
		if !e.Classification.RequiresEncryption() || e.Justification != "" {
			continue
		}
		violations = append(violations, &core.ComplianceViolation{
			ID:         uuid.New().String(),
			Rule:       RuleUnjustifiedAccess,
			UserID:     e.UserID,
			Detail:     fmt.Sprintf("%s of %s data without justification", e.EventType, e.Classification),
			EventIDs:   []string{e.ID},
			DetectedAt: now.UTC(),
		})
	}
	return violations, nil
}

// StartRetentionSweep launches the periodic deletion of events past the
// compliance retention period
func (s *Service) StartRetentionSweep() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer goroutine.Recover("audit-retention", s.logger)

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.SweepExpired(context.Background()); err != nil {
					s.logger.Errorf("Audit retention sweep failed: %v", err)
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// SweepExpired deletes events older than the retention period and returns
// how many were removed
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	removed, err := s.store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Infof("Retention sweep removed %d audit events older than %d days", removed, s.cfg.RetentionDays)
	}
	return removed, nil
}
