package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/cashclose/internal/cashclose"
	"github.com/odyssey-erp/cashclose/internal/docstore"
	"github.com/odyssey-erp/cashclose/internal/observability"
	"github.com/odyssey-erp/cashclose/internal/platform/cache"
	"github.com/odyssey-erp/cashclose/internal/shared"
)

// NewLedger opens the configured document store and builds the closing ledger
// service on top of it. The returned func releases every opened resource.
func NewLedger(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*cashclose.Service, func() error, error) {
	store, closeStore, err := docstore.Open(ctx, docstore.OpenConfig{
		Driver:     cfg.DocstoreDriver,
		PGDSN:      cfg.PGDSN,
		RedisAddr:  cfg.RedisAddr,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("app: open %s docstore: %w", cfg.DocstoreDriver, err)
	}
	closers := []func() error{closeStore}
	release := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	service := cashclose.NewService(store, cashclose.Config{
		Collection: cfg.LedgerCollection,
		MaxRecords: cfg.LedgerMaxRecords,
		Location:   cfg.Location(),
	})
	service.WithLogger(logger.With(slog.String("component", "cashclose")))
	if metrics != nil {
		service.WithRecorder(metrics)
	}

	switch cfg.LedgerLockMode {
	case LockModeLocal:
		service.WithLocker(shared.NewLocalLocker())
	case LockModeRedis:
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			_ = release()
			return nil, nil, fmt.Errorf("app: ledger lock redis: %w", err)
		}
		closers = append(closers, client.Close)
		service.WithLocker(shared.NewRedisLocker(client, cfg.LedgerLockTTL))
	}

	logger.Info("ledger ready",
		slog.String("driver", cfg.DocstoreDriver),
		slog.String("collection", cfg.LedgerCollection),
		slog.Int("max_records", cfg.LedgerMaxRecords),
		slog.String("timezone", cfg.LedgerTimezone),
		slog.String("lock_mode", cfg.LedgerLockMode))
	return service, release, nil
}
