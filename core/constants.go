package core

import "time"

// Severity represents the severity of an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
	SeverityCrisis   Severity = "crisis"
)

// severityRank orders severities for comparisons and channel filtering
var severityRank = map[Severity]int{
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
	SeverityCrisis:   5,
}

// Rank returns the numeric rank of the severity. Unknown severities rank lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is at least as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// IsValid checks if the severity is a known value
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// AlertStatus represents the status of an alert
type AlertStatus string

const (
	// AlertStatusActive indicates an alert that has fired and awaits handling
	AlertStatusActive AlertStatus = "active"
	// AlertStatusAcknowledged indicates an alert a responder has taken ownership of
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	// AlertStatusResolved indicates an alert whose underlying condition cleared
	AlertStatusResolved AlertStatus = "resolved"
	// AlertStatusSuppressed indicates an alert recorded inside a suppression or
	// cooldown window; it was never notified
	AlertStatusSuppressed AlertStatus = "suppressed"
)

// String returns the string representation
func (s AlertStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusActive, AlertStatusAcknowledged, AlertStatusResolved, AlertStatusSuppressed:
		return true
	default:
		return false
	}
}

// ErrorSeverity represents the severity of a captured error
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

var errorSeverityRank = map[ErrorSeverity]int{
	ErrorSeverityLow:      1,
	ErrorSeverityMedium:   2,
	ErrorSeverityHigh:     3,
	ErrorSeverityCritical: 4,
}

// Rank returns the numeric rank of the error severity
func (s ErrorSeverity) Rank() int {
	return errorSeverityRank[s]
}

// Max returns the more severe of the two
func (s ErrorSeverity) Max(other ErrorSeverity) ErrorSeverity {
	if other.Rank() > s.Rank() {
		return other
	}
	return s
}

// Outcome represents the result of an audited action
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// DataClassification represents the sensitivity tier of data touched by an event
type DataClassification string

const (
	ClassificationPublic       DataClassification = "public"
	ClassificationInternal     DataClassification = "internal"
	ClassificationConfidential DataClassification = "confidential"
	ClassificationRestricted   DataClassification = "restricted"
	// ClassificationProtected is the strictest tier: field encryption,
	// access justification and extended retention are required
	ClassificationProtected DataClassification = "protected"
)

// RequiresEncryption reports whether events under this classification must
// have their sensitive fields encrypted at rest
func (c DataClassification) RequiresEncryption() bool {
	return c == ClassificationRestricted || c == ClassificationProtected
}

// LogLevel represents the log level of an audit event
type LogLevel string

const (
	LogLevelInfo     LogLevel = "info"
	LogLevelWarning  LogLevel = "warning"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
)

// AuditEventType is the closed set of auditable event categories
type AuditEventType string

const (
	AuditLogin               AuditEventType = "login"
	AuditLoginFailed         AuditEventType = "login_failed"
	AuditLogout              AuditEventType = "logout"
	AuditAccountLockout      AuditEventType = "account_lockout"
	AuditDataCreate          AuditEventType = "data_create"
	AuditDataRead            AuditEventType = "data_read"
	AuditDataUpdate          AuditEventType = "data_update"
	AuditDataDelete          AuditEventType = "data_delete"
	AuditDataExport          AuditEventType = "data_export"
	AuditAdminAction         AuditEventType = "admin_action"
	AuditSecurityEvent       AuditEventType = "security_event"
	AuditPrivacyChange       AuditEventType = "privacy_setting_change"
	AuditRoleChange          AuditEventType = "role_change"
	AuditCrisisIntervention  AuditEventType = "crisis_intervention"
	AuditBreachDetected      AuditEventType = "breach_detected"
	AuditUnauthorizedAccess  AuditEventType = "unauthorized_access"
	AuditSystem              AuditEventType = "system"
)

// IsValid checks if the event type belongs to the closed set
func (t AuditEventType) IsValid() bool {
	switch t {
	case AuditLogin, AuditLoginFailed, AuditLogout, AuditAccountLockout,
		AuditDataCreate, AuditDataRead, AuditDataUpdate, AuditDataDelete,
		AuditDataExport, AuditAdminAction, AuditSecurityEvent,
		AuditPrivacyChange, AuditRoleChange, AuditCrisisIntervention,
		AuditBreachDetected, AuditUnauthorizedAccess, AuditSystem:
		return true
	default:
		return false
	}
}

// DefaultLevel derives the log level for an event type when the caller
// supplies none
func (t AuditEventType) DefaultLevel() LogLevel {
	switch t {
	case AuditBreachDetected, AuditUnauthorizedAccess, AuditCrisisIntervention:
		return LogLevelCritical
	case AuditLoginFailed, AuditAccountLockout:
		return LogLevelError
	case AuditDataDelete, AuditPrivacyChange, AuditRoleChange:
		return LogLevelWarning
	default:
		return LogLevelInfo
	}
}

// HTTPClientTimeout is the timeout applied to outbound notification requests
const HTTPClientTimeout = 30 * time.Second
