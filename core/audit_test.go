package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuditEvent(t *testing.T) {
	e := NewAuditEvent(AuditDataRead, "read_record")

	require.NotEmpty(t, e.ID)
	assert.Equal(t, AuditDataRead, e.EventType)
	assert.Equal(t, "read_record", e.Action)
	assert.Equal(t, OutcomeSuccess, e.Outcome)
	assert.WithinDuration(t, time.Now().UTC(), e.Timestamp, time.Second)
}

func TestAuditEventIsSensitive(t *testing.T) {
	tests := []struct {
		name      string
		event     AuditEvent
		sensitive bool
	}{
		{"plain info event", AuditEvent{EventType: AuditDataRead, Level: LogLevelInfo}, false},
		{"critical level", AuditEvent{EventType: AuditDataRead, Level: LogLevelCritical}, true},
		{"security event type", AuditEvent{EventType: AuditSecurityEvent, Level: LogLevelInfo}, true},
		{"restricted classification", AuditEvent{EventType: AuditDataRead, Classification: ClassificationRestricted}, true},
		{"protected classification", AuditEvent{EventType: AuditDataUpdate, Classification: ClassificationProtected}, true},
		{"confidential classification", AuditEvent{EventType: AuditDataUpdate, Classification: ClassificationConfidential}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.sensitive, tt.event.IsSensitive())
		})
	}
}

func TestAuditFilterMatches(t *testing.T) {
	base := func() *AuditEvent {
		return &AuditEvent{
			EventType:      AuditDataRead,
			UserID:         "user-1",
			ResourceType:   "record",
			ResourceID:     "rec-42",
			Outcome:        OutcomeSuccess,
			Classification: ClassificationInternal,
			Timestamp:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		}
	}

	t.Run("zero filter matches everything", func(t *testing.T) {
		f := &AuditFilter{}
		assert.True(t, f.Matches(base()))
	})

	t.Run("event type list", func(t *testing.T) {
		f := &AuditFilter{EventTypes: []AuditEventType{AuditLogin, AuditDataRead}}
		assert.True(t, f.Matches(base()))

		f.EventTypes = []AuditEventType{AuditLogin}
		assert.False(t, f.Matches(base()))
	})

	t.Run("user and resource fields", func(t *testing.T) {
		f := &AuditFilter{UserID: "user-1", ResourceType: "record", ResourceID: "rec-42"}
		assert.True(t, f.Matches(base()))

		f.UserID = "someone-else"
		assert.False(t, f.Matches(base()))
	})

	t.Run("outcome and classification", func(t *testing.T) {
		f := &AuditFilter{Outcome: OutcomeFailure}
		assert.False(t, f.Matches(base()))

		f = &AuditFilter{Classification: ClassificationInternal}
		assert.True(t, f.Matches(base()))
	})

	t.Run("time window", func(t *testing.T) {
		e := base()
		f := &AuditFilter{
			Start: e.Timestamp.Add(-time.Hour),
			End:   e.Timestamp.Add(time.Hour),
		}
		assert.True(t, f.Matches(e))

		f.Start = e.Timestamp.Add(time.Minute)
		assert.False(t, f.Matches(e))

		f.Start = time.Time{}
		f.End = e.Timestamp.Add(-time.Minute)
		assert.False(t, f.Matches(e))
	})
}
