package data

import (
	"context"
	"database/sql"
	"time"

	"mediaguard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisCache,
	NewBandFilter,
	NewFingerprintRepo,
	NewModeratorStore,
	NewEvidenceRepo,
	NewDecisionPublisher,
	NewExtractor,
	NewMatcher,
	NewFetcher,
	NewFFmpeg,
	NewVideoOpener,
	NewClassifier,
	NewImageModerator,
	NewVideoModerator,
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Data struct for db client
type Data struct {
	Pool *pgxpool.Pool // nil for the memory store
	DB   *sql.DB       // database/sql for migrations
}

// NewData new a data instance
func NewData(c *conf.Data, logger log.Logger) (*Data, func(), error) {
	log := log.NewHelper(log.With(logger, "module", "data"))
	if c.Store == StoreMemory {
		log.Info("using in-memory fingerprint store")
		return &Data{}, func() {}, nil
	}
	ctx := context.Background()

	pgxConfig, err := newPgxPoolConfig(c)
	if err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pgxConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	// database/sql is only used by the migrator
	driver := c.Database.Driver
	if driver == "" {
		driver = StorePostgres
	}
	db, err := sql.Open(driver, c.Database.Source)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	if err := RunMigrate(c, db); err != nil {
		pool.Close()
		db.Close()
		return nil, nil, err
	}

	cleanup := func() {
		log.Info("closing db connections")
		pool.Close()
		db.Close()
	}

	return &Data{
		Pool: pool,
		DB:   db,
	}, cleanup, nil
}

// newPgxPoolConfig creates a pgxpool.Config from conf.Data
func newPgxPoolConfig(c *conf.Data) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(c.Database.Source)
	if err != nil {
		return nil, err
	}
	pool := c.Database.Pool
	if pool == nil {
		return cfg, nil
	}
	if pool.MaxOpenConns > 0 {
		cfg.MaxConns = pool.MaxOpenConns
	}
	if pool.MinIdleConns > 0 {
		cfg.MinConns = pool.MinIdleConns
	}
	if pool.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = time.Duration(pool.MaxConnLifetime) * time.Minute
	}
	if pool.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = time.Duration(pool.MaxConnIdleTime) * time.Minute
	}

	return cfg, nil
}
