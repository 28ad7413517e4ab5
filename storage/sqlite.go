package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"argus/core"
)

// SQLiteStore is the embedded store for alerts and audit events. WAL mode
// with a single-writer pool keeps concurrent readers from blocking writes.
type SQLiteStore struct {
	writeDB *sql.DB
	readDB  *sql.DB
	path    string
	logger  *zap.SugaredLogger
}

// NewSQLiteStore opens (creating if necessary) the database at path
func NewSQLiteStore(path string, logger *zap.SugaredLogger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	writeDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", path)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to open sqlite read pool: %w", err)
	}
	readDB.SetMaxOpenConns(10)

	s := &SQLiteStore{writeDB: writeDB, readDB: readDB, path: path, logger: logger}
	for _, db := range []*sql.DB{writeDB, readDB} {
		if err := s.configure(db); err != nil {
			s.Close()
			return nil, err
		}
	}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Ping verifies both pools can reach the database
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.writeDB.PingContext(ctx); err != nil {
		return fmt.Errorf("write pool: %w", err)
	}
	if err := s.readDB.PingContext(ctx); err != nil {
		return fmt.Errorf("read pool: %w", err)
	}
	return nil
}

func (s *SQLiteStore) configure(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		title TEXT,
		message TEXT,
		source TEXT,
		timestamp DATETIME NOT NULL,
		escalation_level INTEGER NOT NULL DEFAULT 0,
		fingerprint TEXT NOT NULL,
		metadata TEXT,
		is_crisis INTEGER NOT NULL DEFAULT 0,
		user_id TEXT,
		risk_level TEXT,
		acknowledged_by TEXT,
		acknowledged_at DATETIME,
		resolved_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_fingerprint ON alerts(fingerprint, timestamp);
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);

	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		event_type TEXT NOT NULL,
		level TEXT NOT NULL,
		action TEXT NOT NULL,
		description TEXT,
		outcome TEXT NOT NULL,
		user_id TEXT,
		session_id TEXT,
		source_ip TEXT,
		user_agent TEXT,
		resource_type TEXT,
		resource_id TEXT,
		classification TEXT NOT NULL,
		justification TEXT,
		details TEXT,
		encrypted_fields TEXT,
		encrypted INTEGER NOT NULL DEFAULT 0,
		integrity TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_events(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(event_type, timestamp);
	`
	if _, err := s.writeDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close releases both connection pools
func (s *SQLiteStore) Close() error {
	var firstErr error
	if err := s.writeDB.Close(); err != nil {
		firstErr = err
	}
	if err := s.readDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// InsertAlert implements AlertStore
func (s *SQLiteStore) InsertAlert(ctx context.Context, a *core.Alert) error {
	metadata, err := marshalJSON(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.writeDB.ExecContext(ctx, `
		INSERT INTO alerts (id, type, severity, status, title, message, source,
			timestamp, escalation_level, fingerprint, metadata, is_crisis,
			user_id, risk_level, acknowledged_by, acknowledged_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.Severity, a.Status, a.Title, a.Message, a.Source,
		a.Timestamp, a.EscalationLevel, a.Fingerprint, metadata, a.IsCrisis,
		a.UserID, a.RiskLevel, a.AcknowledgedBy, a.AcknowledgedAt, a.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// UpdateAlert implements AlertStore
func (s *SQLiteStore) UpdateAlert(ctx context.Context, a *core.Alert) error {
	res, err := s.writeDB.ExecContext(ctx, `
		UPDATE alerts SET status = ?, escalation_level = ?, acknowledged_by = ?,
			acknowledged_at = ?, resolved_at = ?
		WHERE id = ?`,
		a.Status, a.EscalationLevel, a.AcknowledgedBy, a.AcknowledgedAt, a.ResolvedAt, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// GetAlert implements AlertStore
func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (*core.Alert, error) {
	row := s.readDB.QueryRowContext(ctx, alertSelect+` WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, ErrAlertNotFound
	}
	return a, err
}

// FindAlertsByFingerprint implements AlertStore
func (s *SQLiteStore) FindAlertsByFingerprint(ctx context.Context, fingerprint string, windowStart time.Time) ([]*core.Alert, error) {
	rows, err := s.readDB.QueryContext(ctx,
		alertSelect+` WHERE fingerprint = ? AND timestamp >= ? ORDER BY timestamp DESC`,
		fingerprint, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// ListAlerts implements AlertStore
func (s *SQLiteStore) ListAlerts(ctx context.Context, status core.AlertStatus) ([]*core.Alert, error) {
	query := alertSelect + ` ORDER BY timestamp DESC`
	args := []interface{}{}
	if status != "" {
		query = alertSelect + ` WHERE status = ? ORDER BY timestamp DESC`
		args = append(args, status)
	}
	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// DeleteResolvedBefore implements AlertStore
func (s *SQLiteStore) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.writeDB.ExecContext(ctx,
		`DELETE FROM alerts WHERE status = ? AND resolved_at IS NOT NULL AND resolved_at < ?`,
		core.AlertStatusResolved, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const alertSelect = `SELECT id, type, severity, status, title, message, source,
	timestamp, escalation_level, fingerprint, metadata, is_crisis, user_id,
	risk_level, acknowledged_by, acknowledged_at, resolved_at FROM alerts`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*core.Alert, error) {
	var a core.Alert
	var metadata sql.NullString
	var ackBy, userID, riskLevel sql.NullString
	var ackAt, resolvedAt sql.NullTime
	err := row.Scan(&a.ID, &a.Type, &a.Severity, &a.Status, &a.Title, &a.Message,
		&a.Source, &a.Timestamp, &a.EscalationLevel, &a.Fingerprint, &metadata,
		&a.IsCrisis, &userID, &riskLevel, &ackBy, &ackAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert metadata: %w", err)
		}
	}
	a.UserID = userID.String
	a.RiskLevel = riskLevel.String
	a.AcknowledgedBy = ackBy.String
	if ackAt.Valid {
		t := ackAt.Time
		a.AcknowledgedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	return &a, nil
}

func scanAlerts(rows *sql.Rows) ([]*core.Alert, error) {
	var out []*core.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertAuditEvent implements AuditStore
func (s *SQLiteStore) InsertAuditEvent(ctx context.Context, e *core.AuditEvent) error {
	details, err := marshalJSON(e.Details)
	if err != nil {
		return err
	}
	encrypted, err := marshalJSON(e.EncryptedFields)
	if err != nil {
		return err
	}
	_, err = s.writeDB.ExecContext(ctx, `
		INSERT INTO audit_events (id, timestamp, event_type, level, action,
			description, outcome, user_id, session_id, source_ip, user_agent,
			resource_type, resource_id, classification, justification, details,
			encrypted_fields, encrypted, integrity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.EventType, e.Level, e.Action, e.Description,
		e.Outcome, e.UserID, e.SessionID, e.SourceIP, e.UserAgent,
		e.ResourceType, e.ResourceID, e.Classification, e.Justification,
		details, encrypted, e.Encrypted, e.Integrity)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// InsertAuditBatch implements AuditStore. The batch is one transaction; a
// failure rolls back the whole batch so the caller can requeue it intact.
func (s *SQLiteStore) InsertAuditBatch(ctx context.Context, events []*core.AuditEvent) error {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit batch: %w", err)
	}
	for _, e := range events {
		details, err := marshalJSON(e.Details)
		if err != nil {
			tx.Rollback()
			return err
		}
		encrypted, err := marshalJSON(e.EncryptedFields)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO audit_events (id, timestamp, event_type, level, action,
				description, outcome, user_id, session_id, source_ip, user_agent,
				resource_type, resource_id, classification, justification, details,
				encrypted_fields, encrypted, integrity)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Timestamp, e.EventType, e.Level, e.Action, e.Description,
			e.Outcome, e.UserID, e.SessionID, e.SourceIP, e.UserAgent,
			e.ResourceType, e.ResourceID, e.Classification, e.Justification,
			details, encrypted, e.Encrypted, e.Integrity); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert audit batch: %w", err)
		}
	}
	return tx.Commit()
}

// GetAuditEvent implements AuditStore
func (s *SQLiteStore) GetAuditEvent(ctx context.Context, id string) (*core.AuditEvent, error) {
	row := s.readDB.QueryRowContext(ctx, auditSelect+` WHERE id = ?`, id)
	e, err := scanAuditEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrAuditEventNotFound
	}
	return e, err
}

// QueryAuditEvents implements AuditStore
func (s *SQLiteStore) QueryAuditEvents(ctx context.Context, filter *core.AuditFilter) ([]*core.AuditEvent, error) {
	query := auditSelect
	var clauses []string
	var args []interface{}

	if filter != nil {
		if len(filter.EventTypes) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.EventTypes)), ",")
			clauses = append(clauses, fmt.Sprintf("event_type IN (%s)", placeholders))
			for _, t := range filter.EventTypes {
				args = append(args, t)
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
			args = append(args, filter.Outcome)
		}
		if filter.Classification != "" {
			clauses = append(clauses, "classification = ?")
			args = append(args, filter.Classification)
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
			clauses = append(clauses, "(action LIKE ? OR description LIKE ? OR event_type LIKE ?)")
			like := "%" + filter.Text + "%"
			args = append(args, like, like, like)
		}
	}

	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp ASC"
	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []*core.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEventsBefore implements AuditStore
func (s *SQLiteStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const auditSelect = `SELECT id, timestamp, event_type, level, action,
	description, outcome, user_id, session_id, source_ip, user_agent,
	resource_type, resource_id, classification, justification, details,
	encrypted_fields, encrypted, integrity FROM audit_events`

func scanAuditEvent(row rowScanner) (*core.AuditEvent, error) {
	var e core.AuditEvent
	var details, encrypted sql.NullString
	err := row.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.Level, &e.Action,
		&e.Description, &e.Outcome, &e.UserID, &e.SessionID, &e.SourceIP,
		&e.UserAgent, &e.ResourceType, &e.ResourceID, &e.Classification,
		&e.Justification, &details, &encrypted, &e.Encrypted, &e.Integrity)
	if err != nil {
		return nil, err
	}
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
		}
	}
	if encrypted.Valid && encrypted.String != "" {
		if err := json.Unmarshal([]byte(encrypted.String), &e.EncryptedFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal encrypted fields: %w", err)
		}
	}
	return &e, nil
}

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal json column: %w", err)
	}
	return string(data), nil
}
