package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"argus/alert"
	"argus/audit"
	"argus/config"
	"argus/core"
	"argus/errtrack"
	"argus/health"
	"argus/notify"
	"argus/storage"
)

// App represents the Argus service with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Storage    *StorageComponents
	Notifier   *notify.Notifier
	NotifyPool *core.WorkerPool

	Audit     *audit.Service
	Alerts    *alert.Manager
	Errors    *errtrack.Tracker
	Health    *health.Service
	Retention *storage.RetentionManager
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Argus starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	storageComponents, err := InitStorage(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}
	app.Storage = storageComponents

	notifier, err := notify.NewNotifier(cfg.Channels, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}
	app.NotifyPool = core.NewWorkerPool(ctx, 4, 256, "notify", sugar)
	notifier.SetWorkerPool(app.NotifyPool)
	app.Notifier = notifier

	keys, err := config.NewKeyProvider(&cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key provider: %w", err)
	}

	auditService, err := audit.NewService(cfg.Audit, storageComponents.AuditStore, keys, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit service: %w", err)
	}
	app.Audit = auditService

	alertManager, err := alert.NewManager(cfg.Alerts, storageComponents.AlertStore, storageComponents.Suppression, notifier, auditService, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize alert manager: %w", err)
	}
	app.Alerts = alertManager

	tracker, err := errtrack.NewTracker(cfg.Errors, alertManager, auditService, nil, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize error tracker: %w", err)
	}
	app.Errors = tracker

	app.Health = health.NewService(cfg.Health, alertManager, sugar)
	app.registerStorageProbes()

	// Audit events have their own compliance sweep, so the retention
	// manager only handles resolved alerts.
	app.Retention = storage.NewRetentionManager(
		storageComponents.AlertStore, nil,
		cfg.Alerts.ResolvedRetention, 0,
		24*time.Hour, sugar)

	return app, nil
}

// Start starts all background services.
func (a *App) Start(ctx context.Context) error {
	a.NotifyPool.Start()
	a.Audit.Start()
	a.Audit.StartDetector(a.onViolation)
	a.Audit.StartRetentionSweep()
	a.Alerts.Start()
	a.Errors.Start()
	a.Health.Start()
	a.Retention.Start()

	a.Sugar.Info("All services started")
	return nil
}

// onViolation raises an alert for each compliance finding.
func (a *App) onViolation(v *core.ComplianceViolation) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := a.Alerts.CreateAlert(ctx, &alert.CreateAlertRequest{
		Type:     "compliance_violation",
		Severity: core.SeverityCritical,
		Title:    fmt.Sprintf("Compliance violation: %s", v.Rule),
		Message:  v.Detail,
		Source:   "audit-compliance-detector",
		UserID:   v.UserID,
		Metadata: map[string]interface{}{
			"rule":      v.Rule,
			"event_ids": v.EventIDs,
		},
	})
	if err != nil {
		a.Sugar.Errorf("Failed to raise compliance alert: %v", err)
	}
}

// registerStorageProbes wires a health probe per active storage backend.
func (a *App) registerStorageProbes() {
	if a.Storage.SQLite != nil {
		a.Health.RegisterCheck("sqlite", a.Storage.SQLite.Ping)
	}
	if a.Storage.Mongo != nil {
		a.Health.RegisterCheck("mongodb", a.Storage.Mongo.Ping)
	}
	if a.Storage.ClickHouse != nil {
		a.Health.RegisterCheck("clickhouse", a.Storage.ClickHouse.Ping)
	}
	if a.Storage.Redis != nil {
		a.Health.RegisterCheck("redis", a.Storage.Redis.Ping)
	}
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components. Producers stop before the
// audit service so its final flush sees every queued event.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	a.Health.Stop()
	a.Errors.Stop()
	a.Alerts.Stop()
	a.Retention.Stop()
	a.NotifyPool.Stop()
	a.Audit.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Storage.Close(ctx, a.Sugar)

	a.Sugar.Info("Shutdown complete")
	a.Logger.Sync()
}
