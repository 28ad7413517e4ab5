package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Alert represents a deduplicated operational alert
type Alert struct {
	ID              string                 `json:"id" bson:"_id"`
	Type            string                 `json:"type" bson:"type"`
	Severity        Severity               `json:"severity" bson:"severity"`
	Status          AlertStatus            `json:"status" bson:"status"`
	Title           string                 `json:"title" bson:"title"`
	Message         string                 `json:"message" bson:"message"`
	Source          string                 `json:"source" bson:"source"`
	Timestamp       time.Time              `json:"timestamp" bson:"timestamp"`
	EscalationLevel int                    `json:"escalation_level" bson:"escalation_level"`
	Fingerprint     string                 `json:"fingerprint" bson:"fingerprint"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`

	// Crisis flags: a crisis alert bypasses suppression and cooldown
	IsCrisis  bool   `json:"is_crisis,omitempty" bson:"is_crisis,omitempty"`
	UserID    string `json:"user_id,omitempty" bson:"user_id,omitempty"`
	RiskLevel string `json:"risk_level,omitempty" bson:"risk_level,omitempty"`

	AcknowledgedBy string     `json:"acknowledged_by,omitempty" bson:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" bson:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
}

// NewAlert creates an alert with a generated UUID and the given status
func NewAlert(alertType string, severity Severity, status AlertStatus) *Alert {
	return &Alert{
		ID:        uuid.New().String(),
		Type:      alertType,
		Severity:  severity,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// validTransitions defines allowed state transitions for alerts
var validTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusActive:       {AlertStatusAcknowledged, AlertStatusResolved},
	AlertStatusAcknowledged: {AlertStatusResolved},
	AlertStatusResolved:     {}, // Final state
	AlertStatusSuppressed:   {AlertStatusResolved},
}

// TransitionTo validates and executes an alert state transition
func (a *Alert) TransitionTo(newStatus AlertStatus) error {
	if newStatus == "" {
		return errors.New("new status cannot be empty")
	}
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid alert status: %s", newStatus)
	}

	allowed, exists := validTransitions[a.Status]
	if !exists {
		return fmt.Errorf("unknown current status: %s", a.Status)
	}
	for _, status := range allowed {
		if status == newStatus {
			a.Status = newStatus
			return nil
		}
	}
	return fmt.Errorf("invalid transition: %s → %s (allowed: %v)", a.Status, newStatus, allowed)
}

// CanTransitionTo checks if a transition is allowed without executing it
func (a *Alert) CanTransitionTo(newStatus AlertStatus) bool {
	for _, status := range validTransitions[a.Status] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// Duration returns how long the alert has been (or was) open
func (a *Alert) Duration(now time.Time) time.Duration {
	if a.ResolvedAt != nil {
		return a.ResolvedAt.Sub(a.Timestamp)
	}
	return now.Sub(a.Timestamp)
}

// RuleCondition is a single metric condition on an alert rule
type RuleCondition struct {
	Metric        string        `json:"metric" yaml:"metric" validate:"required"`
	Operator      string        `json:"operator" yaml:"operator" validate:"required,oneof=gt gte lt lte eq"`
	Threshold     float64       `json:"threshold" yaml:"threshold"`
	Window        time.Duration `json:"window" yaml:"window"`
	MinDataPoints int           `json:"min_data_points" yaml:"min_data_points"`
}

// AlertRule binds an alert type to its severity, cooldown, channels and
// optional escalation policy. Rules are configured at startup and mutated
// only through AddRule/RemoveRule.
type AlertRule struct {
	ID         string            `json:"id" yaml:"id" validate:"required"`
	Name       string            `json:"name" yaml:"name" validate:"required"`
	Enabled    bool              `json:"enabled" yaml:"enabled"`
	Conditions []RuleCondition   `json:"conditions,omitempty" yaml:"conditions,omitempty" validate:"dive"`
	Severity   Severity          `json:"severity" yaml:"severity"`
	Cooldown   time.Duration     `json:"cooldown" yaml:"cooldown"`
	Channels   []string          `json:"channels" yaml:"channels"`
	Escalation *EscalationPolicy `json:"escalation,omitempty" yaml:"escalation,omitempty"`
}

// EscalationLevel is one step of an escalation chain
type EscalationLevel struct {
	Level       int           `json:"level" yaml:"level"`
	Delay       time.Duration `json:"delay" yaml:"delay"`
	Channels    []string      `json:"channels" yaml:"channels"`
	RequiresAck bool          `json:"requires_ack" yaml:"requires_ack"`
}

// EscalationPolicy drives the per-alert escalation chain. Levels are ordered;
// each level's delay is measured from the previous escalation (or creation).
type EscalationPolicy struct {
	Levels         []EscalationLevel `json:"levels" yaml:"levels" validate:"min=1,dive"`
	MaxEscalations int               `json:"max_escalations,omitempty" yaml:"max_escalations,omitempty"`
}

// LevelFor returns the escalation level definition for a 1-based level
// number, or nil when the chain is exhausted or capped.
func (p *EscalationPolicy) LevelFor(level int) *EscalationLevel {
	if p == nil || level < 1 || level > len(p.Levels) {
		return nil
	}
	if p.MaxEscalations > 0 && level > p.MaxEscalations {
		return nil
	}
	return &p.Levels[level-1]
}
