package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s100-analytics/backend/internal/models"
)

func newTestStore(t *testing.T) *DuckStore {
	t.Helper()
	ds, err := NewDuckStore(filepath.Join(t.TempDir(), "test.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

func testRawLog(equipment, hash string) *models.RawLog {
	st := time.Date(2025, 9, 12, 10, 0, 0, 0, time.UTC)
	sp := st.Add(30 * time.Minute)
	return &models.RawLog{
		ID:              uuid.New().String(),
		Equipment:       equipment,
		SourceFile:      "/data/202509_total_run_time.txt",
		LineNo:          1,
		StTime:          &st,
		SpTime:          &sp,
		TotalS:          intp(1800),
		ProjectRaw:      strp("ACME_X1"),
		ProjectCustomer: strp("ACME"),
		ProjectCode:     strp("X1"),
		User:            strp("alice"),
		LogNameRaw:      strp("A01_5V_CAP"),
		LogNameFields: models.LogNameFields{
			SampleNo: strp("A01"),
			Voltage:  strp("5V"),
			TestItem: strp("CAP"),
		},
		HashSig:    hash,
		InsertedAt: time.Date(2025, 9, 12, 12, 0, 0, 0, time.UTC),
	}
}

func testRun(equipment string, st, sp time.Time) *models.Run {
	return &models.Run{
		ID:              uuid.New().String(),
		Equipment:       equipment,
		StTime:          st,
		SpTime:          sp,
		DurationS:       int(sp.Sub(st).Seconds()),
		ProjectCustomer: strp("ACME"),
		ProjectCode:     strp("X1"),
		LogNameFields: models.LogNameFields{
			SampleNo: strp("A01"),
			TestItem: strp("CAP"),
		},
		SourceCount: 1,
		DedupStatus: models.DedupStatusKept,
	}
}

func TestDuckStoreRawLogs(t *testing.T) {
	ctx := context.Background()
	ds := newTestStore(t)

	t.Run("insert and exists", func(t *testing.T) {
		tx, err := ds.BeginIngest(ctx)
		require.NoError(t, err)

		exists, err := tx.RawExists(ctx, "s100-1", "abc123")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, tx.InsertRawLog(ctx, testRawLog("s100-1", "abc123")))

		// Within the same transaction the row is visible.
		exists, err = tx.RawExists(ctx, "s100-1", "abc123")
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, tx.Commit())

		tx2, err := ds.BeginIngest(ctx)
		require.NoError(t, err)
		defer tx2.Rollback()
		exists, err = tx2.RawExists(ctx, "s100-1", "abc123")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("hash is scoped per equipment", func(t *testing.T) {
		tx, err := ds.BeginIngest(ctx)
		require.NoError(t, err)
		defer tx.Rollback()

		exists, err := tx.RawExists(ctx, "s100-2", "abc123")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("duplicate hash violates uniqueness", func(t *testing.T) {
		tx, err := ds.BeginIngest(ctx)
		require.NoError(t, err)
		defer tx.Rollback()

		err = tx.InsertRawLog(ctx, testRawLog("s100-1", "abc123"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConflict), "want ErrConflict, got %v", err)
	})

	t.Run("rollback discards the batch", func(t *testing.T) {
		tx, err := ds.BeginIngest(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertRawLog(ctx, testRawLog("s100-3", "zzz999")))
		require.NoError(t, tx.Rollback())

		tx2, err := ds.BeginIngest(ctx)
		require.NoError(t, err)
		defer tx2.Rollback()
		exists, err := tx2.RawExists(ctx, "s100-3", "zzz999")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("nullable fields round-trip as nil", func(t *testing.T) {
		raw := testRawLog("s100-4", "nil001")
		raw.StTime = nil
		raw.TotalS = nil
		raw.User = nil
		raw.MissingUser = true

		tx, err := ds.BeginIngest(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertRawLog(ctx, raw))
		require.NoError(t, tx.Commit())
	})
}

func TestDuckStoreRuns(t *testing.T) {
	ctx := context.Background()
	st := time.Date(2025, 9, 12, 10, 0, 0, 0, time.UTC)
	sp := st.Add(30 * time.Minute)

	key := models.IdentityKey{
		Equipment: "s100-1",
		Customer:  strp("ACME"),
		Code:      strp("X1"),
		SampleNo:  strp("A01"),
		TestItem:  strp("CAP"),
	}

	t.Run("insert then find by overlap", func(t *testing.T) {
		ds := newTestStore(t)
		run := testRun("s100-1", st, sp)

		tx, err := ds.BeginIngest(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertRun(ctx, run))

		// Uncommitted rows must be visible to the same pass.
		found, err := tx.FindOverlappingRuns(ctx, key, st.Add(15*time.Minute), sp.Add(15*time.Minute))
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, run.ID, found[0].ID)
		assert.Equal(t, 1800, found[0].DurationS)
		assert.True(t, found[0].StTime.Equal(st))

		require.NoError(t, tx.Commit())
	})

	t.Run("touching endpoints overlap", func(t *testing.T) {
		ds := newTestStore(t)
		tx, err := ds.BeginIngest(ctx)
		require.NoError(t, err)
		defer tx.Rollback()
		require.NoError(t, tx.InsertRun(ctx, testRun("s100-1", st, sp)))

		found, err := tx.FindOverlappingRuns(ctx, key, sp, sp.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, found, 1)
	})

	t.Run("disjoint window finds nothing", func(t *testing.T) {
		ds := newTestStore(t)
		tx, err := ds.BeginIngest(ctx)
		require.NoError(t, err)
		defer tx.Rollback()
		require.NoError(t, tx.InsertRun(ctx, testRun("s100-1", st, sp)))

		found, err := tx.FindOverlappingRuns(ctx, key, sp.Add(time.Second), sp.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("identity key mismatch finds nothing", func(t *testing.T) {
		ds := newTestStore(t)
		tx, err := ds.BeginIngest(ctx)
		require.NoError(t, err)
		defer tx.Rollback()
		require.NoError(t, tx.InsertRun(ctx, testRun("s100-1", st, sp)))

		other := key
		other.SampleNo = strp("A02")
		found, err := tx.FindOverlappingRuns(ctx, other, st, sp)
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("nil identity fields match nil stored values", func(t *testing.T) {
		ds := newTestStore(t)
		run := testRun("s100-1", st, sp)
		run.ProjectCustomer = nil
		run.ProjectCode = nil
		run.SampleNo = nil
		run.TestItem = nil

		tx, err := ds.BeginIngest(ctx)
		require.NoError(t, err)
		defer tx.Rollback()
		require.NoError(t, tx.InsertRun(ctx, run))

		nilKey := models.IdentityKey{Equipment: "s100-1"}
		found, err := tx.FindOverlappingRuns(ctx, nilKey, st, sp)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Nil(t, found[0].SampleNo)
	})

	t.Run("update extends a run", func(t *testing.T) {
		ds := newTestStore(t)
		run := testRun("s100-1", st, sp)

		tx, err := ds.BeginIngest(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertRun(ctx, run))

		run.SpTime = sp.Add(30 * time.Minute)
		run.DurationS = 3600
		run.SourceCount = 2
		run.DedupStatus = models.DedupStatusReplaced
		require.NoError(t, tx.UpdateRun(ctx, run))
		require.NoError(t, tx.Commit())

		got, err := ds.QueryRuns(ctx, RunFilter{Equipment: "s100-1"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 3600, got[0].DurationS)
		assert.Equal(t, 2, got[0].SourceCount)
		assert.Equal(t, models.DedupStatusReplaced, got[0].DedupStatus)
		assert.True(t, got[0].SpTime.Equal(sp.Add(30*time.Minute)))
	})
}

func TestDuckStoreQueries(t *testing.T) {
	ctx := context.Background()
	ds := newTestStore(t)
	day := time.Date(2025, 9, 12, 0, 0, 0, 0, time.UTC)

	tx, err := ds.BeginIngest(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertRun(ctx, testRun("s100-1", day.Add(-10*time.Minute), day.Add(10*time.Minute))))
	require.NoError(t, tx.InsertRun(ctx, testRun("s100-1", day.Add(10*time.Hour), day.Add(11*time.Hour))))
	require.NoError(t, tx.InsertRun(ctx, testRun("s100-2", day.Add(10*time.Hour), day.Add(11*time.Hour))))
	require.NoError(t, tx.Commit())

	t.Run("window selection clips per equipment", func(t *testing.T) {
		runs, err := ds.RunsOverlappingWindow(ctx, "s100-1", day, day.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Len(t, runs, 2)
	})

	t.Run("window is half open", func(t *testing.T) {
		// A run ending exactly at the window start does not intersect it.
		runs, err := ds.RunsOverlappingWindow(ctx, "s100-1", day.Add(10*time.Minute), day.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})

	t.Run("query runs with filter", func(t *testing.T) {
		all, err := ds.QueryRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		start := day.Add(9 * time.Hour)
		end := day.Add(12 * time.Hour)
		some, err := ds.QueryRuns(ctx, RunFilter{Equipment: "s100-1", Start: &start, End: &end})
		require.NoError(t, err)
		assert.Len(t, some, 1)
	})
}

func TestDuckStoreDailyMetrics(t *testing.T) {
	ctx := context.Background()
	ds := newTestStore(t)
	day := time.Date(2025, 9, 12, 0, 0, 0, 0, time.UTC)

	m := &models.DailyMetrics{
		Equipment: "s100-1", Day: day,
		BusyTimeS: 1200, Utilization24hPct: 1.3888, RecordsCount: 2,
	}
	require.NoError(t, ds.ReplaceDailyMetrics(ctx, m))

	// Replacing the same day overwrites rather than duplicating.
	m.BusyTimeS = 2400
	require.NoError(t, ds.ReplaceDailyMetrics(ctx, m))

	rows, err := ds.DailyMetricsRange(ctx, "s100-1", nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2400, rows[0].BusyTimeS)
	assert.True(t, rows[0].Day.Equal(day))

	t.Run("range bounds", func(t *testing.T) {
		next := day.Add(24 * time.Hour)
		require.NoError(t, ds.ReplaceDailyMetrics(ctx, &models.DailyMetrics{
			Equipment: "s100-1", Day: next, BusyTimeS: 100,
		}))

		rows, err := ds.DailyMetricsRange(ctx, "s100-1", &day, &next)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].Day.Equal(day))
	})
}

func TestDuckStoreIngestionState(t *testing.T) {
	ctx := context.Background()
	ds := newTestStore(t)

	first := time.Date(2025, 9, 12, 1, 0, 0, 0, time.UTC)
	require.NoError(t, ds.RecordIngestion(ctx, "s100-1", "/data/202509_total_run_time.txt", first))

	// Re-ingesting the same file only bumps the timestamp.
	second := first.Add(24 * time.Hour)
	require.NoError(t, ds.RecordIngestion(ctx, "s100-1", "/data/202509_total_run_time.txt", second))
}
