// Package storage provides the pluggable store backends for alerts, audit
// events and suppression state. Persistence, multi-instance coordination and
// retention sweeps are implementation details behind these interfaces.
package storage

import (
	"context"
	"errors"
	"time"

	"argus/core"
)

var (
	// ErrAlertNotFound is returned when an alert id does not exist
	ErrAlertNotFound = errors.New("alert not found")
	// ErrAuditEventNotFound is returned when an audit event id does not exist
	ErrAuditEventNotFound = errors.New("audit event not found")
)

// AlertStore persists alerts
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *core.Alert) error
	UpdateAlert(ctx context.Context, alert *core.Alert) error
	GetAlert(ctx context.Context, id string) (*core.Alert, error)
	// FindAlertsByFingerprint returns alerts with the fingerprint created at
	// or after windowStart, newest first
	FindAlertsByFingerprint(ctx context.Context, fingerprint string, windowStart time.Time) ([]*core.Alert, error)
	// ListAlerts returns alerts with the given status; empty status matches all
	ListAlerts(ctx context.Context, status core.AlertStatus) ([]*core.Alert, error)
	// DeleteResolvedBefore garbage-collects alerts resolved before cutoff
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// AuditStore persists the append-only audit trail
type AuditStore interface {
	InsertAuditEvent(ctx context.Context, event *core.AuditEvent) error
	InsertAuditBatch(ctx context.Context, events []*core.AuditEvent) error
	GetAuditEvent(ctx context.Context, id string) (*core.AuditEvent, error)
	QueryAuditEvents(ctx context.Context, filter *core.AuditFilter) ([]*core.AuditEvent, error)
	// DeleteEventsBefore removes events past the retention window
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// SuppressionStore tracks suppression windows and per-type cooldown firings.
// The in-memory implementation is process-local; a multi-instance deployment
// needs the shared (redis) implementation or dedup decisions will race.
type SuppressionStore interface {
	Suppress(ctx context.Context, fingerprint string, ttl time.Duration) error
	IsSuppressed(ctx context.Context, fingerprint string) (bool, error)
	RecordFiring(ctx context.Context, alertType string, at time.Time, ttl time.Duration) error
	// LastFiring returns the most recent firing time for the type, if any
	LastFiring(ctx context.Context, alertType string) (time.Time, bool, error)
}
