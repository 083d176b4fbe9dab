package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/cashclose/internal/cashclose"
	jobmetrics "github.com/odyssey-erp/cashclose/internal/jobs"
)

type compactor interface {
	Compact(ctx context.Context, tenant string) (cashclose.Document, error)
}

// CompactJob migrates and re-trims stored closing ledgers.
type CompactJob struct {
	service compactor
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewCompactJob wires the compaction handler.
func NewCompactJob(service compactor, logger *slog.Logger, metrics *jobmetrics.Metrics) *CompactJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompactJob{service: service, logger: logger, metrics: metrics}
}

// Handle processes TaskCashCloseCompact tasks.
func (j *CompactJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskCashCloseCompact)
	var payload CompactPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(fmt.Errorf("jobs: decode compact payload: %v: %w", err, asynq.SkipRetry))
	}
	doc, err := j.service.Compact(ctx, payload.Company)
	switch {
	case errors.Is(err, cashclose.ErrDocumentNotFound), errors.Is(err, cashclose.ErrInvalidTenant):
		j.logger.Warn("compact skipped", slog.String("company", payload.Company), slog.Any("error", err))
		return tracker.End(fmt.Errorf("jobs: compact %q: %w: %w", payload.Company, err, asynq.SkipRetry))
	case err != nil:
		return tracker.End(err)
	}
	count := doc.ClosingsByDate.Len()
	j.metrics.AddCompacted(count)
	j.logger.Info("ledger compacted",
		slog.String("company", doc.Company),
		slog.Int("closings", count),
		slog.Int("dates", len(doc.ClosingsByDate)))
	return tracker.End(nil)
}
