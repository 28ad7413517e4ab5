package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetentionManager removes resolved alerts and expired audit events on a
// schedule. Audit retention defaults to seven years for compliance, so the
// sweep is cheap almost every run.
type RetentionManager struct {
	alertStore    AlertStore
	auditStore    AuditStore
	alertMaxAge   time.Duration
	auditMaxAge   time.Duration
	checkInterval time.Duration
	logger        *zap.SugaredLogger
	stopCh        chan struct{}
}

// NewRetentionManager creates a new retention manager
func NewRetentionManager(alertStore AlertStore, auditStore AuditStore, alertMaxAge, auditMaxAge, checkInterval time.Duration, logger *zap.SugaredLogger) *RetentionManager {
	if checkInterval <= 0 {
		checkInterval = 24 * time.Hour
	}
	return &RetentionManager{
		alertStore:    alertStore,
		auditStore:    auditStore,
		alertMaxAge:   alertMaxAge,
		auditMaxAge:   auditMaxAge,
		checkInterval: checkInterval,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start starts the retention manager
func (rm *RetentionManager) Start() {
	go rm.run()
}

func (rm *RetentionManager) run() {
	ticker := time.NewTicker(rm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rm.Cleanup(context.Background())
		case <-rm.stopCh:
			return
		}
	}
}

// Stop stops the retention manager
func (rm *RetentionManager) Stop() {
	close(rm.stopCh)
}

// Cleanup performs one retention sweep
func (rm *RetentionManager) Cleanup(ctx context.Context) {
	now := time.Now()

	if rm.alertStore != nil && rm.alertMaxAge > 0 {
		removed, err := rm.alertStore.DeleteResolvedBefore(ctx, now.Add(-rm.alertMaxAge))
		if err != nil {
			rm.logger.Errorf("Failed to cleanup resolved alerts: %v", err)
		} else if removed > 0 {
			rm.logger.Infof("Removed %d resolved alerts past retention", removed)
		}
	}

	if rm.auditStore != nil && rm.auditMaxAge > 0 {
		removed, err := rm.auditStore.DeleteEventsBefore(ctx, now.Add(-rm.auditMaxAge))
		if err != nil {
			rm.logger.Errorf("Failed to cleanup audit events: %v", err)
		} else if removed > 0 {
			rm.logger.Infof("Removed %d audit events past retention", removed)
		}
	}
}
