package jobs

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCashCloseCompact rewrites one company's closing ledger in canonical form.
	TaskCashCloseCompact = "cashclose:compact"
)

// CompactPayload identifies the ledger to compact.
type CompactPayload struct {
	Company string `json:"company"`
}

// NewCompactTask constructs an Asynq task for ledger compaction.
func NewCompactTask(company string) (*asynq.Task, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return nil, errors.New("jobs: company required")
	}
	body, err := json.Marshal(CompactPayload{Company: company})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCashCloseCompact, body, asynq.Queue(QueueDefault)), nil
}
