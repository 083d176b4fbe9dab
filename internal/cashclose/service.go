package cashclose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/cashclose/internal/docstore"
	"github.com/odyssey-erp/cashclose/internal/shared"
)

// Store is the document persistence the ledger needs.
type Store interface {
	GetByID(ctx context.Context, collection, id string) ([]byte, error)
	AddWithID(ctx context.Context, collection, id string, doc []byte) error
}

// Locker serializes read-modify-write cycles for one company.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Recorder receives ledger counters.
type Recorder interface {
	ObserveSave(outcome string)
	ObserveEvictions(n int)
	ObserveLegacyMigration()
}

// Save outcomes reported to the Recorder.
const (
	OutcomeOK                 = "ok"
	OutcomeInvalidTenant      = "invalid_tenant"
	OutcomeInvalidRecord      = "invalid_record"
	OutcomeStoreError         = "store_error"
	OutcomeVerificationFailed = "verification_failed"
)

// Config tunes the ledger.
type Config struct {
	Collection string
	MaxRecords int
	Location   *time.Location
}

// Service is the closing ledger API.
type Service struct {
	store      Store
	locker     Locker
	recorder   Recorder
	logger     *slog.Logger
	collection string
	maxRecords int
	bucketer   *Bucketer
	normalizer *Normalizer
	now        func() time.Time
	reads      singleflight.Group
}

// NewService constructs a Service over store.
func NewService(store Store, cfg Config) *Service {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	bucketer := NewBucketer(cfg.Location)
	return &Service{
		store:      store,
		logger:     slog.New(slog.DiscardHandler),
		collection: cfg.Collection,
		maxRecords: cfg.MaxRecords,
		bucketer:   bucketer,
		normalizer: NewNormalizer(bucketer),
		now:        time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
		s.bucketer.now = now
		s.normalizer.now = now
	}
}

// WithIDGenerator overrides how ids are assigned to closings submitted without one.
func (s *Service) WithIDGenerator(newID func() string) {
	if newID != nil {
		s.normalizer.newID = newID
	}
}

// WithLocker enables per-company serialization of saves.
func (s *Service) WithLocker(locker Locker) {
	s.locker = locker
}

// WithRecorder attaches a metrics recorder.
func (s *Service) WithRecorder(recorder Recorder) {
	s.recorder = recorder
}

// WithLogger attaches a logger.
func (s *Service) WithLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// DateKey exposes the bucket key used for a closing date.
func (s *Service) DateKey(value any) string {
	return s.bucketer.DateKey(value)
}

// GetDocument returns the normalized ledger of a company, or ErrDocumentNotFound.
// Concurrent reads for the same company share one store round-trip.
func (s *Service) GetDocument(ctx context.Context, tenant string) (*Document, error) {
	tenant = NormalizeTenant(tenant)
	if tenant == "" {
		return nil, ErrInvalidTenant
	}
	// The shared read outlives any one caller; each caller's select enforces its own deadline.
	readCtx := context.WithoutCancel(ctx)
	resultCh := s.reads.DoChan(tenant, func() (any, error) {
		return s.fetch(readCtx, tenant)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return nil, res.Err
		}
		doc, _ := s.decode(res.Val.([]byte), tenant)
		return &doc, nil
	}
}

// GetClosingsForDate returns the closings filed under dateKey. Missing companies
// or dates yield an empty list.
func (s *Service) GetClosingsForDate(ctx context.Context, tenant, dateKey string) ([]Record, error) {
	doc, err := s.GetDocument(ctx, tenant)
	if errors.Is(err, ErrDocumentNotFound) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	records := doc.ClosingsByDate[dateKey]
	out := make([]Record, len(records))
	copy(out, records)
	return out, nil
}

// SaveClosing upserts one closing by id, enforces the retention cap, writes the
// whole document and reads it back to confirm the closing landed.
func (s *Service) SaveClosing(ctx context.Context, tenant string, raw any) (Record, error) {
	tenant = NormalizeTenant(tenant)
	if tenant == "" {
		s.observeSave(OutcomeInvalidTenant)
		return Record{}, ErrInvalidTenant
	}
	rec, ok := s.normalizer.SanitizeRecord(raw)
	if !ok {
		s.observeSave(OutcomeInvalidRecord)
		return Record{}, ErrInvalidRecord
	}
	// The server clock is the creation time of a closing submitted without one.
	rec.CreatedAt.Defaulted = false

	unlock, err := s.lock(ctx, tenant)
	if err != nil {
		s.observeSave(OutcomeStoreError)
		return Record{}, err
	}
	defer unlock()

	current, legacy, err := s.load(ctx, tenant)
	if err != nil {
		s.observeSave(OutcomeStoreError)
		return Record{}, err
	}

	key := s.bucketer.DateKey(rec.ClosingDate)
	merged := withoutID(current.ClosingsByDate, rec.ID)
	merged[key] = append([]Record{rec}, merged[key]...)

	if legacy {
		s.observeMigration(tenant)
	}
	if _, err := s.persist(ctx, tenant, merged); err != nil {
		s.observeSave(OutcomeStoreError)
		return Record{}, err
	}

	if err := s.verify(ctx, tenant, key, rec.ID); err != nil {
		s.observeSave(OutcomeVerificationFailed)
		s.logger.Error("closing not found after write",
			slog.String("company", tenant),
			slog.String("date", key),
			slog.String("id", rec.ID),
			slog.Any("error", err))
		return Record{}, err
	}
	s.observeSave(OutcomeOK)
	return rec, nil
}

// Compact rewrites a stored ledger in canonical form, migrating the legacy
// flat layout and re-applying the retention cap.
func (s *Service) Compact(ctx context.Context, tenant string) (Document, error) {
	tenant = NormalizeTenant(tenant)
	if tenant == "" {
		return Document{}, ErrInvalidTenant
	}
	unlock, err := s.lock(ctx, tenant)
	if err != nil {
		return Document{}, err
	}
	defer unlock()

	raw, err := s.fetch(ctx, tenant)
	if err != nil {
		return Document{}, err
	}
	current, legacy := s.decode(raw, tenant)
	if legacy {
		s.observeMigration(tenant)
	}
	return s.persist(ctx, tenant, current.ClosingsByDate)
}

func (s *Service) lock(ctx context.Context, tenant string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	unlock, err := s.locker.Lock(ctx, shared.TenantLockKey(s.collection, tenant))
	if err != nil {
		return nil, fmt.Errorf("cashclose: lock %s: %w", tenant, err)
	}
	return unlock, nil
}

// load returns the current document, or an empty one for a new company, and
// whether it is stored in the legacy flat layout.
func (s *Service) load(ctx context.Context, tenant string) (Document, bool, error) {
	raw, err := s.fetch(ctx, tenant)
	if errors.Is(err, ErrDocumentNotFound) {
		return Document{Company: tenant, ClosingsByDate: Buckets{}}, false, nil
	}
	if err != nil {
		return Document{}, false, err
	}
	doc, legacy := s.decode(raw, tenant)
	return doc, legacy, nil
}

// withoutID copies buckets dropping every record with id, and buckets left empty.
func withoutID(buckets Buckets, id string) Buckets {
	out := make(Buckets, len(buckets)+1)
	for key, list := range buckets {
		kept := make([]Record, 0, len(list))
		for _, rec := range list {
			if rec.ID != id {
				kept = append(kept, rec)
			}
		}
		if len(kept) > 0 {
			out[key] = kept
		}
	}
	return out
}

func (s *Service) fetch(ctx context.Context, tenant string) ([]byte, error) {
	raw, err := s.store.GetByID(ctx, s.collection, tenant)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cashclose: get %s/%s: %w", s.collection, tenant, err)
	}
	return raw, nil
}

// decode never fails; undecodable bytes degrade to an empty document.
func (s *Service) decode(raw []byte, tenant string) (Document, bool) {
	var value any
	if err := DecodeJSON(raw, &value); err != nil {
		s.logger.Warn("stored ledger is not valid json",
			slog.String("company", tenant),
			slog.Any("error", err))
		value = nil
	}
	return s.normalizer.sanitizeDocument(value, tenant)
}

// observeMigration reports a legacy document about to be rewritten in the bucketed layout.
func (s *Service) observeMigration(tenant string) {
	s.logger.Info("migrating legacy ledger layout", slog.String("company", tenant))
	if s.recorder != nil {
		s.recorder.ObserveLegacyMigration()
	}
}

func (s *Service) persist(ctx context.Context, tenant string, buckets Buckets) (Document, error) {
	trimmed, evicted := Trim(buckets, s.maxRecords)
	if len(evicted) > 0 {
		s.logger.Debug("evicted closings over retention cap",
			slog.String("company", tenant),
			slog.Int("evicted", len(evicted)))
		if s.recorder != nil {
			s.recorder.ObserveEvictions(len(evicted))
		}
	}
	doc := Document{
		Company:        tenant,
		UpdatedAt:      Timestamp{Time: s.now()},
		ClosingsByDate: trimmed,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return Document{}, fmt.Errorf("cashclose: encode %s: %w", tenant, err)
	}
	if err := s.store.AddWithID(ctx, s.collection, tenant, body); err != nil {
		return Document{}, fmt.Errorf("cashclose: write %s/%s: %w", s.collection, tenant, err)
	}
	return doc, nil
}

func (s *Service) verify(ctx context.Context, tenant, dateKey, id string) error {
	raw, err := s.fetch(ctx, tenant)
	if err != nil {
		return fmt.Errorf("%w: read back: %w", ErrPersistVerificationFailed, err)
	}
	doc, _ := s.decode(raw, tenant)
	if _, ok := doc.Find(dateKey, id); !ok {
		return fmt.Errorf("%w: closing %s missing from %s", ErrPersistVerificationFailed, id, dateKey)
	}
	return nil
}

func (s *Service) observeSave(outcome string) {
	if s.recorder != nil {
		s.recorder.ObserveSave(outcome)
	}
}
