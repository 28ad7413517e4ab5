package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"argus/config"
	"argus/storage"
)

// StorageComponents holds the wired store backends.
type StorageComponents struct {
	AlertStore  storage.AlertStore
	AuditStore  storage.AuditStore
	Suppression storage.SuppressionStore

	SQLite     *storage.SQLiteStore
	Mongo      *storage.MongoAlertStore
	ClickHouse *storage.ClickHouseAuditStore
	Redis      *storage.RedisSuppressionStore
}

// connectTimeout bounds each backend connection attempt during startup.
const connectTimeout = 10 * time.Second

// InitStorage wires the configured backends. The primary backend (memory or
// sqlite) serves both alerts and audit events; Mongo, ClickHouse and Redis
// optionally take over their respective concern when enabled.
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	sc := &StorageComponents{}

	switch cfg.Storage.Backend {
	case "sqlite":
		store, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		sc.SQLite = store
		sc.AlertStore = store
		sc.AuditStore = store
		sugar.Infof("SQLite store opened at %s", cfg.Storage.SQLitePath)
	default:
		sc.AlertStore = storage.NewMemoryAlertStore()
		sc.AuditStore = storage.NewMemoryAuditStore()
		sugar.Info("Using in-memory stores")
	}

	if cfg.Storage.Mongo.Enabled {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		mongoStore, err := storage.NewMongoAlertStore(connectCtx, cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize mongo alert store: %w", err)
		}
		sc.Mongo = mongoStore
		sc.AlertStore = mongoStore
		sugar.Infof("MongoDB alert store connected (%s)", cfg.Storage.Mongo.Database)
	}

	if cfg.Storage.ClickHouse.Enabled {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		ch := cfg.Storage.ClickHouse
		chStore, err := storage.NewClickHouseAuditStore(connectCtx, ch.Addrs, ch.Database, ch.Username, ch.Password, cfg.Audit.RetentionDays, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize clickhouse audit store: %w", err)
		}
		sc.ClickHouse = chStore
		sc.AuditStore = chStore
		sugar.Infof("ClickHouse audit store connected (%s)", ch.Database)
	}

	if cfg.Storage.Redis.Enabled {
		r := cfg.Storage.Redis
		redisStore := storage.NewRedisSuppressionStore(r.Addr, r.Password, r.DB, r.PoolSize, sugar)
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := redisStore.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		sc.Redis = redisStore
		sc.Suppression = redisStore
		sugar.Infof("Redis suppression store connected (%s)", r.Addr)
	} else {
		sc.Suppression = storage.NewMemorySuppressionStore(0)
	}

	return sc, nil
}

// Close releases every backend connection.
func (sc *StorageComponents) Close(ctx context.Context, sugar *zap.SugaredLogger) {
	if sc.Redis != nil {
		if err := sc.Redis.Close(); err != nil {
			sugar.Errorw("Failed to close redis connection", "error", err)
		}
	}
	if sc.ClickHouse != nil {
		if err := sc.ClickHouse.Close(); err != nil {
			sugar.Errorw("Failed to close clickhouse connection", "error", err)
		}
	}
	if sc.Mongo != nil {
		if err := sc.Mongo.Close(ctx); err != nil {
			sugar.Errorw("Failed to close mongo connection", "error", err)
		}
	}
	if sc.SQLite != nil {
		if err := sc.SQLite.Close(); err != nil {
			sugar.Errorw("Failed to close sqlite database", "error", err)
		}
	}
}
