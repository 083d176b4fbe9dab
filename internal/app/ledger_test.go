package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cashclose/internal/observability"
)

func testLedgerConfig() *Config {
	return &Config{
		DocstoreDriver:   "memory",
		LedgerCollection: "cierres",
		LedgerMaxRecords: 50,
		LedgerTimezone:   "UTC",
		LedgerLockMode:   LockModeLocal,
		LedgerLockTTL:    time.Second,
	}
}

func TestNewLedgerMemory(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	service, release, err := NewLedger(ctx, testLedgerConfig(), logger, observability.NewMetrics())
	require.NoError(t, err)
	defer func() { require.NoError(t, release()) }()

	saved, err := service.SaveClosing(ctx, "acme", map[string]any{"id": "c1", "closingDate": "2024-05-01"})
	require.NoError(t, err)
	require.Equal(t, "c1", saved.ID)

	closings, err := service.GetClosingsForDate(ctx, "acme", "2024-05-01")
	require.NoError(t, err)
	require.Len(t, closings, 1)
}

func TestNewLedgerSQLiteWithRedisLock(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)

	cfg := testLedgerConfig()
	cfg.DocstoreDriver = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "ledger.db")
	cfg.LedgerLockMode = LockModeRedis
	cfg.RedisAddr = mr.Addr()

	service, release, err := NewLedger(ctx, cfg, logger, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, release()) }()

	_, err = service.SaveClosing(ctx, "acme", map[string]any{"id": "c1", "closingDate": "2024-05-01"})
	require.NoError(t, err)
	require.Empty(t, mr.Keys(), "lock must be released after save")
}

func TestNewLedgerUnknownDriver(t *testing.T) {
	cfg := testLedgerConfig()
	cfg.DocstoreDriver = "mongo"
	_, _, err := NewLedger(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	require.Error(t, err)
}
