package docstore

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/cashclose/internal/platform/cache"
	"github.com/odyssey-erp/cashclose/internal/platform/db"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// OpenConfig selects and configures a backend.
type OpenConfig struct {
	Driver     string
	PGDSN      string
	RedisAddr  string
	SQLitePath string
}

// Open connects the configured backend. The returned func releases its resources.
func Open(ctx context.Context, cfg OpenConfig) (Store, func() error, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		store := NewPostgres(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func() error { pool.Close(); return nil }, nil
	case DriverRedis:
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return NewRedis(client), client.Close, nil
	case DriverSQLite:
		store, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case DriverMemory:
		return NewMemory(), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
}
