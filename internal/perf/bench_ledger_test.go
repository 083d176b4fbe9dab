package perf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/cashclose/internal/cashclose"
	cashclosehttp "github.com/odyssey-erp/cashclose/internal/cashclose/http"
	"github.com/odyssey-erp/cashclose/internal/docstore"
	"github.com/odyssey-erp/cashclose/internal/shared"
	_ "github.com/odyssey-erp/cashclose/internal/testing/guard"
)

func newLedger() *cashclose.Service {
	svc := cashclose.NewService(docstore.NewMemory(), cashclose.Config{Location: time.UTC})
	svc.WithLocker(shared.NewLocalLocker())
	return svc
}

func closingPayload(i int) map[string]any {
	day := time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC).AddDate(0, 0, i%90)
	return map[string]any{
		"id":           fmt.Sprintf("c-%d", i),
		"closingDate":  day.Format(time.RFC3339),
		"createdAt":    day.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
		"totalCRC":     150000 + i,
		"breakdownCRC": map[string]any{"20000": 5, "10000": 4, "5000": 2},
	}
}

func BenchmarkSaveClosingAtCap(b *testing.B) {
	ctx := context.Background()
	svc := newLedger()
	for i := 0; i < cashclose.DefaultMaxRecords; i++ {
		if _, err := svc.SaveClosing(ctx, "acme", closingPayload(i)); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.SaveClosing(ctx, "acme", closingPayload(cashclose.DefaultMaxRecords+i)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGetClosingsForDateParallel(b *testing.B) {
	ctx := context.Background()
	svc := newLedger()
	for i := 0; i < cashclose.DefaultMaxRecords; i++ {
		if _, err := svc.SaveClosing(ctx, "acme", closingPayload(i)); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := svc.GetClosingsForDate(ctx, "acme", "2024-01-01"); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func TestConcurrentSavesLatencyTarget(t *testing.T) {
	ctx := context.Background()
	svc := newLedger()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	cashclosehttp.NewHandler(logger, svc, nil, 0).MountRoutes(r)

	const workers, perWorker = 8, 10
	samples := make([]time.Duration, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n := w*perWorker + i
				body := fmt.Sprintf(`{"id":"c-%d","closingDate":"2024-03-01T12:00:00Z","totalCRC":%d}`, n, n)
				req := httptest.NewRequest(http.MethodPost, "/cierres/acme", strings.NewReader(body))
				rr := httptest.NewRecorder()
				start := time.Now()
				r.ServeHTTP(rr, req)
				samples[n] = time.Since(start)
				if rr.Code != http.StatusCreated {
					t.Errorf("save %d: status %d", n, rr.Code)
				}
			}
		}(w)
	}
	wg.Wait()

	doc, err := svc.GetDocument(ctx, "acme")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got := doc.ClosingsByDate.Len(); got != cashclose.DefaultMaxRecords {
		t.Fatalf("expected %d retained closings, got %d", cashclose.DefaultMaxRecords, got)
	}
	if p95 := percentile95(samples); p95 > 500*time.Millisecond {
		t.Fatalf("save latency regression: p95=%s", p95)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[int(float64(len(sorted)-1)*0.95)]
}
