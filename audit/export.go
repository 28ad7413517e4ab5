package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"argus/core"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Export is a serialized audit log extract
type Export struct {
	Data     []byte
	Filename string
}

// ComplianceReport summarizes the trail over a reporting period
type ComplianceReport struct {
	Type        string    `json:"type"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	GeneratedAt time.Time `json:"generated_at"`

	TotalEvents       int                             `json:"total_events"`
	ByEventType       map[core.AuditEventType]int     `json:"by_event_type"`
	ByOutcome         map[core.Outcome]int            `json:"by_outcome"`
	ByClassification  map[core.DataClassification]int `json:"by_classification"`
	EncryptedEvents   int                             `json:"encrypted_events"`
	FailedOperations  int                             `json:"failed_operations"`
	IntegrityFailures []string                        `json:"integrity_failures,omitempty"`
	Violations        []*core.ComplianceViolation     `json:"violations,omitempty"`
}

// ExportLogs serializes matching events to JSON or CSV. Redacted and
// encrypted fields export as stored; the key never participates.
func (s *Service) ExportLogs(ctx context.Context, filter *core.AuditFilter, format string) (*Export, error) {
	events, err := s.QueryEvents(ctx, filter)
	if err != nil {
		return nil, err
	}

	stamp := s.now().UTC().Format("20060102-150405")
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to serialize export: %w", err)
		}
		return &Export{Data: data, Filename: fmt.Sprintf("audit-export-%s.json", stamp)}, nil
	case FormatCSV:
		data, err := exportCSV(events)
		if err != nil {
			return nil, err
		}
		return &Export{Data: data, Filename: fmt.Sprintf("audit-export-%s.csv", stamp)}, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportCSV(events []*core.AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"id", "timestamp", "event_type", "level", "action", "description",
		"outcome", "user_id", "session_id", "source_ip", "resource_type",
		"resource_id", "classification", "encrypted", "integrity",
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, e := range events {
		row := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			string(e.EventType),
			string(e.Level),
			e.Action,
			e.Description,
			string(e.Outcome),
			e.UserID,
			e.SessionID,
			e.SourceIP,
			e.ResourceType,
			e.ResourceID,
			string(e.Classification),
			fmt.Sprintf("%t", e.Encrypted),
			e.Integrity,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GenerateComplianceReport aggregates the trail over a period, verifying
// every event's integrity along the way
func (s *Service) GenerateComplianceReport(ctx context.Context, reportType string, start, end time.Time) (*ComplianceReport, error) {
	events, err := s.QueryEvents(ctx, &core.AuditFilter{Start: start, End: end})
	if err != nil {
		return nil, err
	}

	report := &ComplianceReport{
		Type:             reportType,
		PeriodStart:      start,
		PeriodEnd:        end,
		GeneratedAt:      s.now().UTC(),
		TotalEvents:      len(events),
		ByEventType:      make(map[core.AuditEventType]int),
		ByOutcome:        make(map[core.Outcome]int),
		ByClassification: make(map[core.DataClassification]int),
	}

	for _, e := range events {
		report.ByEventType[e.EventType]++
		report.ByOutcome[e.Outcome]++
		report.ByClassification[e.Classification]++
		if e.Encrypted {
			report.EncryptedEvents++
		}
		if e.Outcome == core.OutcomeFailure {
			report.FailedOperations++
		}
		if valid, err := VerifyIntegrity(e); err != nil || !valid {
			report.IntegrityFailures = append(report.IntegrityFailures, e.ID)
		}
	}

	violations, err := s.DetectViolations(ctx)
	if err != nil {
		s.logger.Warnf("Compliance scan during report generation failed: %v", err)
	} else {
		report.Violations = violations
	}

	return report, nil
}
