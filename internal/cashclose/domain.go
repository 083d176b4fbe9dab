package cashclose

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	// DefaultCollection is the document collection holding one ledger per company.
	DefaultCollection = "cierres"
	// DefaultMaxRecords caps the number of closings kept per company across all dates.
	DefaultMaxRecords = 50
	// DateKeyLayout is the calendar-date bucket key format.
	DateKeyLayout = "2006-01-02"
)

// Currency identifies the cash drawer a value belongs to.
type Currency string

const (
	CurrencyCRC Currency = "CRC"
	CurrencyUSD Currency = "USD"
)

// Breakdown maps a denomination face value to the number of units counted.
// A missing denomination means zero units.
type Breakdown map[int64]int64

// Total returns the sum of face value times count.
func (b Breakdown) Total() int64 {
	var total int64
	for denom, count := range b {
		total += denom * count
	}
	return total
}

// Timestamp carries a resolved instant and whether it came from the input or a fallback.
type Timestamp struct {
	Time      time.Time
	Defaulted bool
}

// IsZero reports whether no instant was resolved at all.
func (t Timestamp) IsZero() bool {
	return t.Time.IsZero()
}

// MarshalJSON writes the canonical ISO-8601 form with offset.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts the canonical form only; foreign shapes go through the Normalizer.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return err
	}
	*t = Timestamp{Time: parsed}
	return nil
}

// RemovedAdjustment is a pending adjustment that a closing resolved. Every field is optional.
type RemovedAdjustment struct {
	ID            string     `json:"id,omitempty"`
	Currency      Currency   `json:"currency,omitempty"`
	Amount        *int64     `json:"amount,omitempty"`
	AmountIngreso *int64     `json:"amountIngreso,omitempty"`
	AmountEgreso  *int64     `json:"amountEgreso,omitempty"`
	Manager       string     `json:"manager,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
}

// AdjustmentResolution records adjustments cleared during a closing.
type AdjustmentResolution struct {
	RemovedAdjustments       []RemovedAdjustment `json:"removedAdjustments,omitempty"`
	Note                     string              `json:"note,omitempty"`
	PostAdjustmentBalanceCRC *int64              `json:"postAdjustmentBalanceCRC,omitempty"`
	PostAdjustmentBalanceUSD *int64              `json:"postAdjustmentBalanceUSD,omitempty"`
}

// Record is one cash-count reconciliation event.
type Record struct {
	ID                   string                `json:"id"`
	CreatedAt            Timestamp             `json:"createdAt"`
	ClosingDate          Timestamp             `json:"closingDate"`
	Manager              string                `json:"manager"`
	TotalCRC             int64                 `json:"totalCRC"`
	TotalUSD             int64                 `json:"totalUSD"`
	RecordedBalanceCRC   int64                 `json:"recordedBalanceCRC"`
	RecordedBalanceUSD   int64                 `json:"recordedBalanceUSD"`
	DiffCRC              int64                 `json:"diffCRC"`
	DiffUSD              int64                 `json:"diffUSD"`
	Notes                string                `json:"notes"`
	BreakdownCRC         Breakdown             `json:"breakdownCRC"`
	BreakdownUSD         Breakdown             `json:"breakdownUSD"`
	AdjustmentResolution *AdjustmentResolution `json:"adjustmentResolution,omitempty"`
}

// recency ranks records for retention. Defaulted timestamps rank as the oldest.
func (r Record) recency() int64 {
	if !r.CreatedAt.Defaulted && !r.CreatedAt.IsZero() {
		return r.CreatedAt.Time.UnixMilli()
	}
	if !r.ClosingDate.Defaulted && !r.ClosingDate.IsZero() {
		return r.ClosingDate.Time.UnixMilli()
	}
	return 0
}

// Buckets groups closings by calendar-date key, newest first within each key.
type Buckets map[string][]Record

// Len returns the number of records across all buckets.
func (b Buckets) Len() int {
	n := 0
	for _, records := range b {
		n += len(records)
	}
	return n
}

// Document is the whole-company ledger aggregate persisted as one document.
type Document struct {
	Company        string    `json:"company"`
	UpdatedAt      Timestamp `json:"updatedAt"`
	ClosingsByDate Buckets   `json:"closingsByDate"`
}

// Find looks up a record by id inside the bucket for dateKey.
func (d *Document) Find(dateKey, id string) (Record, bool) {
	if d == nil {
		return Record{}, false
	}
	for _, rec := range d.ClosingsByDate[dateKey] {
		if rec.ID == id {
			return rec, true
		}
	}
	return Record{}, false
}

var (
	// ErrInvalidTenant is returned when the company identifier is blank.
	ErrInvalidTenant = errors.New("cashclose: invalid tenant")
	// ErrInvalidRecord is returned when a closing cannot be normalized.
	ErrInvalidRecord = errors.New("cashclose: invalid record")
	// ErrPersistVerificationFailed is returned when the read-back after a write misses the saved closing.
	ErrPersistVerificationFailed = errors.New("cashclose: persist verification failed")
	// ErrDocumentNotFound indicates the company has no ledger document yet.
	ErrDocumentNotFound = errors.New("cashclose: document not found")
	// ErrCompactionQueued indicates a compaction for the company is already waiting in the queue.
	ErrCompactionQueued = errors.New("cashclose: compaction already queued")
)
