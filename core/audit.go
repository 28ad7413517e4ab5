package core

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent is one append-only entry of the compliance audit trail.
// Integrity is a SHA-256 digest over the event minus the Integrity field
// itself; it is computed after redaction and encryption so verification
// never needs the encryption key.
type AuditEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	Level     LogLevel       `json:"level"`

	Action      string  `json:"action"`
	Description string  `json:"description,omitempty"`
	Outcome     Outcome `json:"outcome"`

	// Actor and network context
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	SourceIP  string `json:"source_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Resource reference
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	Classification DataClassification `json:"classification"`

	// Justification records why a sensitive resource was accessed.
	// The compliance detector flags sensitive access lacking one.
	Justification string `json:"justification,omitempty"`

	// Details is the free-form payload, redacted before persistence
	Details map[string]interface{} `json:"details,omitempty"`

	// EncryptedFields holds field name → base64(nonce||ciphertext) for
	// fields removed from Details by the encryption pass
	EncryptedFields map[string]string `json:"encrypted_fields,omitempty"`
	Encrypted       bool              `json:"encrypted"`

	Integrity string `json:"integrity"`
}

// NewAuditEvent creates an audit event with a generated UUID
func NewAuditEvent(eventType AuditEventType, action string) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Action:    action,
		Outcome:   OutcomeSuccess,
	}
}

// IsSensitive reports whether the event must be persisted synchronously
// rather than batched
func (e *AuditEvent) IsSensitive() bool {
	return e.Level == LogLevelCritical ||
		e.Classification.RequiresEncryption() ||
		e.EventType == AuditSecurityEvent
}

// AuditFilter narrows audit queries. Zero values match everything.
type AuditFilter struct {
	EventTypes     []AuditEventType   `json:"event_types,omitempty"`
	UserID         string             `json:"user_id,omitempty"`
	ResourceType   string             `json:"resource_type,omitempty"`
	ResourceID     string             `json:"resource_id,omitempty"`
	Outcome        Outcome            `json:"outcome,omitempty"`
	Classification DataClassification `json:"classification,omitempty"`
	Start          time.Time          `json:"start,omitempty"`
	End            time.Time          `json:"end,omitempty"`
	Text           string             `json:"text,omitempty"`
	Limit          int                `json:"limit,omitempty"`
	Offset         int                `json:"offset,omitempty"`
}

// Matches reports whether the event satisfies every set filter field
// (text search excepted; stores apply Text themselves)
func (f *AuditFilter) Matches(e *AuditEvent) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.Classification != "" && e.Classification != f.Classification {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	return true
}

// ComplianceViolation is a finding emitted by the background detector.
// Violations are surfaced for review, never hard failures.
type ComplianceViolation struct {
	ID         string    `json:"id"`
	Rule       string    `json:"rule"`
	UserID     string    `json:"user_id,omitempty"`
	Detail     string    `json:"detail"`
	EventIDs   []string  `json:"event_ids,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}
