package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"argus/core"
)

// ClickHouseAuditStore archives audit events in ClickHouse. The table's
// retention TTL is set generously above the application sweep so that the
// sweep, not the engine, is what the compliance report observes.
// Implements AuditStore.
type ClickHouseAuditStore struct {
	conn          driver.Conn
	logger        *zap.SugaredLogger
	retentionDays int
}

// NewClickHouseAuditStore connects and ensures the audit table
func NewClickHouseAuditStore(ctx context.Context, addrs []string, database, username, password string, retentionDays int, logger *zap.SugaredLogger) (*ClickHouseAuditStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: addrs,
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	s := &ClickHouseAuditStore{conn: conn, logger: logger, retentionDays: retentionDays}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ClickHouseAuditStore) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS audit_events (
		id String,
		timestamp DateTime64(3),
		event_type String,
		level String,
		action String,
		description String,
		outcome String,
		user_id String,
		session_id String,
		source_ip String,
		user_agent String,
		resource_type String,
		resource_id String,
		classification String,
		justification String,
		details String,
		encrypted_fields String,
		encrypted UInt8,
		integrity String
	) ENGINE = MergeTree()
	ORDER BY (timestamp, event_type)
	PARTITION BY toYYYYMM(timestamp)
	TTL toDateTime(timestamp) + INTERVAL %d DAY
	SETTINGS index_granularity = 8192`, s.retentionDays+30)

	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create audit_events table: %w", err)
	}
	s.logger.Info("Audit event table ensured in ClickHouse")
	return nil
}

// Ping verifies the connection is alive
func (s *ClickHouseAuditStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close releases the connection
func (s *ClickHouseAuditStore) Close() error {
	return s.conn.Close()
}

const chAuditInsert = `INSERT INTO audit_events (id, timestamp, event_type,
	level, action, description, outcome, user_id, session_id, source_ip,
	user_agent, resource_type, resource_id, classification, justification,
	details, encrypted_fields, encrypted, integrity)`

// InsertAuditEvent implements AuditStore
func (s *ClickHouseAuditStore) InsertAuditEvent(ctx context.Context, e *core.AuditEvent) error {
	batch, err := s.conn.PrepareBatch(ctx, chAuditInsert)
	if err != nil {
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	if err := s.appendEvent(batch, e); err != nil {
		return err
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// InsertAuditBatch implements AuditStore
func (s *ClickHouseAuditStore) InsertAuditBatch(ctx context.Context, events []*core.AuditEvent) error {
	batch, err := s.conn.PrepareBatch(ctx, chAuditInsert)
	if err != nil {
		return fmt.Errorf("failed to prepare audit batch: %w", err)
	}
	for _, e := range events {
		if err := s.appendEvent(batch, e); err != nil {
			return err
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert audit batch: %w", err)
	}
	return nil
}

func (s *ClickHouseAuditStore) appendEvent(batch driver.Batch, e *core.AuditEvent) error {
	details, err := marshalJSON(e.Details)
	if err != nil {
		return err
	}
	encrypted, err := marshalJSON(e.EncryptedFields)
	if err != nil {
		return err
	}
	encFlag := uint8(0)
	if e.Encrypted {
		encFlag = 1
	}
	if err := batch.Append(e.ID, e.Timestamp, string(e.EventType), string(e.Level),
		e.Action, e.Description, string(e.Outcome), e.UserID, e.SessionID,
		e.SourceIP, e.UserAgent, e.ResourceType, e.ResourceID,
		string(e.Classification), e.Justification, details, encrypted,
		encFlag, e.Integrity); err != nil {
		return fmt.Errorf("failed to append audit event to batch: %w", err)
	}
	return nil
}

// GetAuditEvent implements AuditStore
func (s *ClickHouseAuditStore) GetAuditEvent(ctx context.Context, id string) (*core.AuditEvent, error) {
	events, err := s.query(ctx, chAuditSelect+` WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrAuditEventNotFound
	}
	return events[0], nil
}

// QueryAuditEvents implements AuditStore
func (s *ClickHouseAuditStore) QueryAuditEvents(ctx context.Context, filter *core.AuditFilter) ([]*core.AuditEvent, error) {
	query := chAuditSelect
	var clauses []string
	var args []interface{}

	if filter != nil {
		if len(filter.EventTypes) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.EventTypes)), ",")
			clauses = append(clauses, fmt.Sprintf("event_type IN (%s)", placeholders))
			for _, t := range filter.EventTypes {
				args = append(args, string(t))
			}
		}
		if filter.UserID != "" {
			clauses = append(clauses, "user_id = ?")
			args = append(args, filter.UserID)
		}
		if filter.ResourceType != "" {
			clauses = append(clauses, "resource_type = ?")
			args = append(args, filter.ResourceType)
		}
		if filter.ResourceID != "" {
			clauses = append(clauses, "resource_id = ?")
			args = append(args, filter.ResourceID)
		}
		if filter.Outcome != "" {
			clauses = append(clauses, "outcome = ?")
			args = append(args, string(filter.Outcome))
		}
		if filter.Classification != "" {
			clauses = append(clauses, "classification = ?")
			args = append(args, string(filter.Classification))
		}
		if !filter.Start.IsZero() {
			clauses = append(clauses, "timestamp >= ?")
			args = append(args, filter.Start)
		}
		if !filter.End.IsZero() {
			clauses = append(clauses, "timestamp <= ?")
			args = append(args, filter.End)
		}
		if filter.Text != "" {
			clauses = append(clauses, "(positionCaseInsensitive(action, ?) > 0 OR positionCaseInsensitive(description, ?) > 0)")
			args = append(args, filter.Text, filter.Text)
		}
	}

	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp ASC"
	if filter != nil && filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	return s.query(ctx, query, args...)
}

const chAuditSelect = `SELECT id, timestamp, event_type, level, action,
	description, outcome, user_id, session_id, source_ip, user_agent,
	resource_type, resource_id, classification, justification, details,
	encrypted_fields, encrypted, integrity FROM audit_events`

func (s *ClickHouseAuditStore) query(ctx context.Context, query string, args ...interface{}) ([]*core.AuditEvent, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []*core.AuditEvent
	for rows.Next() {
		var e core.AuditEvent
		var eventType, level, outcome, classification string
		var details, encrypted string
		var encFlag uint8
		if err := rows.Scan(&e.ID, &e.Timestamp, &eventType, &level, &e.Action,
			&e.Description, &outcome, &e.UserID, &e.SessionID, &e.SourceIP,
			&e.UserAgent, &e.ResourceType, &e.ResourceID, &classification,
			&e.Justification, &details, &encrypted, &encFlag, &e.Integrity); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.EventType = core.AuditEventType(eventType)
		e.Level = core.LogLevel(level)
		e.Outcome = core.Outcome(outcome)
		e.Classification = core.DataClassification(classification)
		e.Encrypted = encFlag == 1
		if details != "" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
			}
		}
		if encrypted != "" {
			if err := json.Unmarshal([]byte(encrypted), &e.EncryptedFields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal encrypted fields: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteEventsBefore implements AuditStore. ClickHouse deletes are
// asynchronous mutations; the count is not observable, so 0 is returned.
func (s *ClickHouseAuditStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	err := s.conn.Exec(ctx, `ALTER TABLE audit_events DELETE WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit events: %w", err)
	}
	return 0, nil
}
