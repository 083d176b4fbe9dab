package cashclose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDateKeyUsesReferenceZone(t *testing.T) {
	costaRica := time.FixedZone("CST", -6*3600)

	require.Equal(t, "2024-01-05", NewBucketer(costaRica).DateKey("2024-01-05T23:30:00-06:00"))
	require.Equal(t, "2024-01-06", NewBucketer(time.UTC).DateKey("2024-01-05T23:30:00-06:00"))
	require.Equal(t, "2024-01-04", NewBucketer(costaRica).DateKey("2024-01-05T03:00:00Z"))
}

func TestDateKeyDateOnlyKeepsDay(t *testing.T) {
	for _, loc := range []*time.Location{time.UTC, time.FixedZone("CST", -6*3600), time.FixedZone("JST", 9*3600)} {
		require.Equal(t, "2024-01-05", NewBucketer(loc).DateKey("2024-01-05"))
	}
}

func TestDateKeyAcceptsTimeValues(t *testing.T) {
	b := NewBucketer(time.UTC)
	at := time.Date(2024, 7, 9, 10, 0, 0, 0, time.UTC)
	require.Equal(t, "2024-07-09", b.DateKey(at))
	require.Equal(t, "2024-07-09", b.DateKey(&at))
	require.Equal(t, "2024-07-09", b.DateKey(Timestamp{Time: at}))
	require.Equal(t, "2024-07-09", b.DateKey(at.UnixMilli()))
}

func TestDateKeyFallbacks(t *testing.T) {
	b := NewBucketer(time.UTC)
	b.now = func() time.Time { return fixedNow }

	require.Equal(t, "2024-02-30", b.DateKey("2024-02-30 partially written"))
	require.Equal(t, "2024-06-01", b.DateKey("not a date"))
	require.Equal(t, "2024-06-01", b.DateKey(nil))
	require.Equal(t, "2024-06-01", b.DateKey(Timestamp{}))
}

func TestGroupSortsNewestFirst(t *testing.T) {
	b := NewBucketer(time.UTC)
	day := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	records := []Record{
		{ID: "early", CreatedAt: Timestamp{Time: day}, ClosingDate: Timestamp{Time: day}},
		{ID: "late", CreatedAt: Timestamp{Time: day.Add(4 * time.Hour)}, ClosingDate: Timestamp{Time: day.Add(4 * time.Hour)}},
		{ID: "next", CreatedAt: Timestamp{Time: day.Add(24 * time.Hour)}, ClosingDate: Timestamp{Time: day.Add(24 * time.Hour)}},
	}
	got := b.Group(records)
	require.Len(t, got, 2)
	require.Equal(t, "late", got["2024-03-01"][0].ID)
	require.Equal(t, "early", got["2024-03-01"][1].ID)
	require.Equal(t, "next", got["2024-03-02"][0].ID)
}

func TestIsDateKey(t *testing.T) {
	require.True(t, IsDateKey("2024-01-31"))
	require.False(t, IsDateKey("2024-02-31"))
	require.False(t, IsDateKey("2024-1-31"))
	require.False(t, IsDateKey("2024-01-31T00:00:00Z"))
}
