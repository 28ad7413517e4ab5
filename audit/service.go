// Package audit implements the tamper-evident compliance audit trail:
// redaction and field encryption of sensitive payloads, per-event integrity
// hashing, batched persistence, compliance violation detection, retention
// sweeps and query/export/verify surfaces.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"argus/config"
	"argus/core"
	"argus/metrics"
	"argus/storage"
	"argus/util"
	"argus/util/goroutine"
)

var tracer = otel.Tracer("argus/audit")

var (
	// ErrMissingEventType is returned when a logged event has no event type
	ErrMissingEventType = errors.New("audit event type is required")
	// ErrMissingAction is returned when a logged event has no action
	ErrMissingAction = errors.New("audit event action is required")
)

// VerifyResult is the outcome of an integrity check
type VerifyResult struct {
	EventID string `json:"event_id"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
}

// Service implements the audit trail
type Service struct {
	cfg    config.AuditConfig
	store  storage.AuditStore
	cipher *fieldCipher
	logger *zap.SugaredLogger

	mu    sync.Mutex
	queue []*core.AuditEvent

	flushCh chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// now is swapped out in tests
	now func() time.Time
}

// NewService creates the audit trail service. keys may be nil when
// encryption is disabled.
func NewService(cfg config.AuditConfig, store storage.AuditStore, keys config.KeyProvider, logger *zap.SugaredLogger) (*Service, error) {
	s := &Service{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	if cfg.EncryptionEnabled {
		if keys == nil {
			return nil, errors.New("encryption enabled but no key provider configured")
		}
		key, err := keys.EncryptionKey()
		if err != nil {
			return nil, fmt.Errorf("failed to load audit encryption key: %w", err)
		}
		cipher, err := newFieldCipher(key)
		if err != nil {
			return nil, err
		}
		s.cipher = cipher
	}

	return s, nil
}

// Start launches the flush loop
func (s *Service) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer goroutine.Recover("audit-flush", s.logger)

		ticker := time.NewTicker(s.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Flush(context.Background())
			case <-s.flushCh:
				s.Flush(context.Background())
			case <-s.stopCh:
				// final drain so shutdown loses nothing
				s.Flush(context.Background())
				return
			}
		}
	}()
}

// Stop halts the flush loop after a final drain
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// LogEvent runs the full processing pipeline and persists the event:
// redaction, the encryption decision, network anonymization, level
// derivation and integrity hashing. Sensitive events are persisted
// synchronously; everything else is queued for the next batch flush.
func (s *Service) LogEvent(ctx context.Context, event *core.AuditEvent) (*core.AuditEvent, error) {
	if event == nil || event.EventType == "" {
		return nil, ErrMissingEventType
	}
	if !event.EventType.IsValid() {
		return nil, fmt.Errorf("unknown audit event type: %s", event.EventType)
	}
	if event.Action == "" {
		return nil, ErrMissingAction
	}

	ctx, span := tracer.Start(ctx, "audit.log_event", trace.WithAttributes(
		attribute.String("audit.event_type", string(event.EventType)),
	))
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if event.Classification == "" {
		event.Classification = core.ClassificationInternal
	}
	if event.Level == "" {
		event.Level = event.EventType.DefaultLevel()
	}

	event.Details = util.RedactFields(event.Details, s.cfg.SensitiveFields)

	if s.requiresEncryption(event) {
		if err := s.encryptDetails(event); err != nil {
			return nil, fmt.Errorf("failed to encrypt audit event: %w", err)
		}
	}

	event.SourceIP = util.AnonymizeIP(event.SourceIP)
	event.UserAgent = util.StripUserAgentVersions(event.UserAgent)

	integrity, err := ComputeIntegrity(event)
	if err != nil {
		return nil, err
	}
	event.Integrity = integrity

	metrics.AuditEventsLogged.WithLabelValues(string(event.EventType)).Inc()

	if event.IsSensitive() {
		if err := s.store.InsertAuditEvent(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to persist sensitive audit event: %w", err)
		}
		return event, nil
	}

	s.enqueue(event)
	return event, nil
}

// requiresEncryption decides per event: protected or restricted data, or
// any event carrying a subject identifier
func (s *Service) requiresEncryption(event *core.AuditEvent) bool {
	if s.cipher == nil {
		return false
	}
	return event.Classification.RequiresEncryption() || event.UserID != ""
}

// encryptDetails moves every detail field into EncryptedFields as
// base64(nonce || ciphertext) of its JSON encoding
func (s *Service) encryptDetails(event *core.AuditEvent) error {
	if len(event.Details) == 0 {
		return nil
	}

	event.EncryptedFields = make(map[string]string, len(event.Details))
	for name, value := range event.Details {
		plain, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to serialize field %q: %w", name, err)
		}
		sealed, err := s.cipher.Encrypt(string(plain))
		if err != nil {
			return fmt.Errorf("failed to encrypt field %q: %w", name, err)
		}
		event.EncryptedFields[name] = sealed
	}
	event.Details = nil
	event.Encrypted = true
	return nil
}

// DecryptEvent returns a copy of the event with its encrypted fields
// restored into Details
func (s *Service) DecryptEvent(event *core.AuditEvent) (*core.AuditEvent, error) {
	if !event.Encrypted || len(event.EncryptedFields) == 0 {
		return event, nil
	}
	if s.cipher == nil {
		return nil, errors.New("encryption is not configured")
	}

	out := *event
	out.Details = make(map[string]interface{}, len(event.EncryptedFields))
	for name, sealed := range event.EncryptedFields {
		plain, err := s.cipher.Decrypt(sealed)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt field %q: %w", name, err)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(plain), &value); err != nil {
			return nil, fmt.Errorf("failed to parse decrypted field %q: %w", name, err)
		}
		out.Details[name] = value
	}
	return &out, nil
}

func (s *Service) enqueue(event *core.AuditEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	full := len(s.queue) >= s.cfg.BatchSize
	s.mu.Unlock()

	if full {
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush persists the queued batch. A failed flush requeues the whole batch
// rather than dropping events.
func (s *Service) Flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	metrics.AuditBatchSize.Observe(float64(len(batch)))
	if err := s.store.InsertAuditBatch(ctx, batch); err != nil {
		metrics.AuditFlushFailures.Inc()
		s.logger.Errorf("Audit flush of %d events failed, requeueing: %v", len(batch), err)
		s.mu.Lock()
		s.queue = append(batch, s.queue...)
		s.mu.Unlock()
	}
}

// QueryEvents returns events matching the filter
func (s *Service) QueryEvents(ctx context.Context, filter *core.AuditFilter) ([]*core.AuditEvent, error) {
	if filter == nil {
		filter = &core.AuditFilter{}
	}
	return s.store.QueryAuditEvents(ctx, filter)
}

// GetEvent returns one event by id
func (s *Service) GetEvent(ctx context.Context, id string) (*core.AuditEvent, error) {
	return s.store.GetAuditEvent(ctx, id)
}

// VerifyEvent recomputes an event's integrity hash and compares it against
// the stored one
func (s *Service) VerifyEvent(ctx context.Context, id string) (*VerifyResult, error) {
	event, err := s.store.GetAuditEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	valid, err := VerifyIntegrity(event)
	result := &VerifyResult{EventID: id, Valid: valid}
	if err != nil {
		result.Error = err.Error()
	} else if !valid {
		result.Error = "integrity hash mismatch: event has been modified"
	}
	return result, nil
}
