package cashclosehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cashclose/internal/cashclose"
	"github.com/odyssey-erp/cashclose/internal/docstore"
	asyncjobs "github.com/odyssey-erp/cashclose/jobs"
)

type stubLedgerService struct {
	getDocumentFn        func(ctx context.Context, tenant string) (*cashclose.Document, error)
	getClosingsForDateFn func(ctx context.Context, tenant, dateKey string) ([]cashclose.Record, error)
	saveClosingFn        func(ctx context.Context, tenant string, raw any) (cashclose.Record, error)
}

func (s *stubLedgerService) GetDocument(ctx context.Context, tenant string) (*cashclose.Document, error) {
	return s.getDocumentFn(ctx, tenant)
}

func (s *stubLedgerService) GetClosingsForDate(ctx context.Context, tenant, dateKey string) ([]cashclose.Record, error) {
	return s.getClosingsForDateFn(ctx, tenant, dateKey)
}

func (s *stubLedgerService) SaveClosing(ctx context.Context, tenant string, raw any) (cashclose.Record, error) {
	return s.saveClosingFn(ctx, tenant, raw)
}

type stubEnqueuer struct {
	company string
	err     error
}

func (s *stubEnqueuer) EnqueueCompact(ctx context.Context, company string) (string, error) {
	s.company = company
	if s.err != nil {
		return "", s.err
	}
	return "task-1", nil
}

func newTestRouter(svc ledgerService, jobs CompactEnqueuer) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, svc, jobs, 1024)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func serve(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestGetDocument(t *testing.T) {
	svc := &stubLedgerService{
		getDocumentFn: func(ctx context.Context, tenant string) (*cashclose.Document, error) {
			require.Equal(t, "acme", tenant)
			return &cashclose.Document{Company: tenant, ClosingsByDate: cashclose.Buckets{
				"2024-05-01": {{ID: "c1", TotalCRC: 1000}},
			}}, nil
		},
	}
	rr := serve(t, newTestRouter(svc, nil), http.MethodGet, "/cierres/acme", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "acme", body["company"])
	require.Contains(t, body["closingsByDate"], "2024-05-01")
}

func TestGetDocumentNotFound(t *testing.T) {
	svc := &stubLedgerService{
		getDocumentFn: func(ctx context.Context, tenant string) (*cashclose.Document, error) {
			return nil, cashclose.ErrDocumentNotFound
		},
	}
	rr := serve(t, newTestRouter(svc, nil), http.MethodGet, "/cierres/acme", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":404`)
}

func TestGetClosingsForDate(t *testing.T) {
	svc := &stubLedgerService{
		getClosingsForDateFn: func(ctx context.Context, tenant, dateKey string) ([]cashclose.Record, error) {
			require.Equal(t, "2024-05-01", dateKey)
			return []cashclose.Record{}, nil
		},
	}
	rr := serve(t, newTestRouter(svc, nil), http.MethodGet, "/cierres/acme/dates/2024-05-01", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"company":"acme","date":"2024-05-01","closings":[]}`, rr.Body.String())
}

func TestGetClosingsForDateRejectsMalformedDate(t *testing.T) {
	svc := &stubLedgerService{
		getClosingsForDateFn: func(ctx context.Context, tenant, dateKey string) ([]cashclose.Record, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	for _, date := range []string{"2024-5-1", "yesterday", "2024-02-31"} {
		rr := serve(t, newTestRouter(svc, nil), http.MethodGet, "/cierres/acme/dates/"+date, "")
		require.Equal(t, http.StatusBadRequest, rr.Code, date)
	}
}

func TestSaveClosingPassesRawPayload(t *testing.T) {
	var captured any
	svc := &stubLedgerService{
		saveClosingFn: func(ctx context.Context, tenant string, raw any) (cashclose.Record, error) {
			require.Equal(t, "acme", tenant)
			captured = raw
			return cashclose.Record{ID: "c1", TotalCRC: 1000}, nil
		},
	}
	rr := serve(t, newTestRouter(svc, nil), http.MethodPost, "/cierres/acme", `{"id":"c1","totalCRC":"1000.99"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	obj, ok := captured.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "1000.99", obj["totalCRC"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "c1", body["id"])
	require.EqualValues(t, 1000, body["totalCRC"])
}

func TestSaveClosingErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid record", cashclose.ErrInvalidRecord, http.StatusBadRequest},
		{"verification", cashclose.ErrPersistVerificationFailed, http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"store", errors.New("store down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubLedgerService{
				saveClosingFn: func(ctx context.Context, tenant string, raw any) (cashclose.Record, error) {
					return cashclose.Record{}, tc.err
				},
			}
			rr := serve(t, newTestRouter(svc, nil), http.MethodPost, "/cierres/acme", `{"id":"c1"}`)
			require.Equal(t, tc.status, rr.Code)
		})
	}
}

func TestSaveClosingRejectsBadBodies(t *testing.T) {
	svc := &stubLedgerService{
		saveClosingFn: func(ctx context.Context, tenant string, raw any) (cashclose.Record, error) {
			t.Fatal("service must not be called")
			return cashclose.Record{}, nil
		},
	}
	router := newTestRouter(svc, nil)

	rr := serve(t, router, http.MethodPost, "/cierres/acme", `{"id":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, router, http.MethodPost, "/cierres/acme", `{"notes":"`+strings.Repeat("x", 2048)+`"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestCompactEnqueues(t *testing.T) {
	jobs := &stubEnqueuer{}
	rr := serve(t, newTestRouter(&stubLedgerService{}, jobs), http.MethodPost, "/cierres/acme/compact", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.JSONEq(t, `{"task_id":"task-1"}`, rr.Body.String())
	require.Equal(t, "acme", jobs.company)
}

func TestCompactAlreadyQueued(t *testing.T) {
	jobs := &stubEnqueuer{err: fmt.Errorf("%w: acme", cashclose.ErrCompactionQueued)}
	rr := serve(t, newTestRouter(&stubLedgerService{}, jobs), http.MethodPost, "/cierres/acme/compact", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "Compaction Already Queued")
}

func TestCompactTwiceAgainstQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asyncjobs.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	router := newTestRouter(&stubLedgerService{}, client)

	rr := serve(t, router, http.MethodPost, "/cierres/acme/compact", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Contains(t, rr.Body.String(), "task_id")

	rr = serve(t, router, http.MethodPost, "/cierres/acme/compact", "")
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestCompactWithoutQueue(t *testing.T) {
	rr := serve(t, newTestRouter(&stubLedgerService{}, nil), http.MethodPost, "/cierres/acme/compact", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRoundTripThroughService(t *testing.T) {
	svc := cashclose.NewService(docstore.NewMemory(), cashclose.Config{Location: time.UTC})
	router := newTestRouter(svc, nil)

	rr := serve(t, router, http.MethodPost, "/cierres/acme", `{
		"id": "c1",
		"closingDate": "2024-05-01T18:00:00Z",
		"totalCRC": "1000.99",
		"breakdownCRC": {"5000": 3, "1000": 0, "500": -2, "abc": 10}
	}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = serve(t, router, http.MethodGet, "/cierres/acme/dates/2024-05-01", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Closings []map[string]any `json:"closings"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Closings, 1)
	require.Equal(t, "c1", body.Closings[0]["id"])
	require.EqualValues(t, 1000, body.Closings[0]["totalCRC"])
	require.Equal(t, map[string]any{"5000": float64(3)}, body.Closings[0]["breakdownCRC"])

	rr = serve(t, router, http.MethodGet, "/cierres/unknown", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}
