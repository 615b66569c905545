package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/s100-analytics/backend/internal/equipment"
	"github.com/s100-analytics/backend/internal/ingest"
	"github.com/s100-analytics/backend/internal/metrics"
	"github.com/s100-analytics/backend/internal/models"
	"github.com/s100-analytics/backend/internal/testutil"
)

type testServer struct {
	e     *echo.Echo
	store *testutil.MemStore
	root  string
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	root := t.TempDir()

	reg, err := equipment.Parse([]byte(
		"equipment:\n" +
			"  - id: s100-1\n" +
			"    label: S100 Tester 1\n" +
			"    logRoot: " + root + "\n"))
	require.NoError(t, err)

	loc := time.FixedZone("UTC+8", 8*3600)
	ms := testutil.NewMemStore()
	eng := ingest.NewEngine(ms, loc)
	agg := metrics.NewAggregator(ms)

	h := NewHandler(ms, eng, agg, reg, "S100_test_log", loc)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	RegisterRoutes(e, h, token)

	return &testServer{e: e, store: ms, root: root}
}

func (s *testServer) request(method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("X-Token", token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func addRun(ms *testutil.MemStore, id, equip string, st, sp time.Time) {
	ms.Runs[id] = &models.Run{
		ID:          id,
		Equipment:   equip,
		StTime:      st,
		SpTime:      sp,
		DurationS:   int(sp.Sub(st).Seconds()),
		SourceCount: 1,
		DedupStatus: models.DedupStatusKept,
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.request(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleListEquipment(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.request(http.MethodGet, "/api/equipment", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []equipment.Equipment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "s100-1", got[0].ID)
}

func TestTokenGate(t *testing.T) {
	t.Run("missing token rejected", func(t *testing.T) {
		s := newTestServer(t, "secret")
		rec := s.request(http.MethodPost, "/api/ingest/current", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong token rejected", func(t *testing.T) {
		s := newTestServer(t, "secret")
		rec := s.request(http.MethodPost, "/api/ingest/current", "nope")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("correct token accepted", func(t *testing.T) {
		s := newTestServer(t, "secret")
		rec := s.request(http.MethodPost, "/api/ingest/current", "secret")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("empty configured token disables the gate", func(t *testing.T) {
		s := newTestServer(t, "")
		rec := s.request(http.MethodPost, "/api/ingest/current", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("read endpoints are open", func(t *testing.T) {
		s := newTestServer(t, "secret")
		rec := s.request(http.MethodGet, "/api/runs", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHandleIngestCurrent(t *testing.T) {
	s := newTestServer(t, "")

	// The engine resolves the month file in its configured zone.
	now := time.Now().In(time.FixedZone("UTC+8", 8*3600))
	name := now.Format("200601") + "_total_run_time.txt"
	day := now.Format("2006/01/02")
	line := "StTime=" + day + "-10:00, SpTime=" + day + "-10:30, TotalTime=1800s, Project=ACME_X1, LogName=A01_5V_CAP, User=alice\n"
	require.NoError(t, os.WriteFile(filepath.Join(s.root, name), []byte(line), 0644))

	rec := s.request(http.MethodPost, "/api/ingest/current", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.IngestStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.RawNew)
	assert.Equal(t, 1, stats.RunsNew)

	// Today's metrics are refreshed as part of the trigger.
	assert.Len(t, s.store.Daily, 1)
}

func TestHandleIngestHistorical(t *testing.T) {
	s := newTestServer(t, "")

	hist := filepath.Join(s.root, "S100_test_log")
	require.NoError(t, os.MkdirAll(hist, 0755))
	line := "StTime=2025/08/12-10:00, SpTime=2025/08/12-10:30, TotalTime=1800s, Project=ACME_X1, LogName=A01_5V_CAP, User=alice\n"
	require.NoError(t, os.WriteFile(filepath.Join(hist, "202508_total_run_time.txt"), []byte(line), 0644))

	rec := s.request(http.MethodPost, "/api/ingest/historical", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.IngestStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.RawNew)
}

func TestHandleDailyMetrics(t *testing.T) {
	day := time.Date(2025, 9, 12, 0, 0, 0, 0, time.UTC)

	t.Run("returns stored rows", func(t *testing.T) {
		s := newTestServer(t, "")
		s.store.Daily["s100-1|2025-09-12"] = &models.DailyMetrics{
			Equipment: "s100-1", Day: day, BusyTimeS: 1200,
			Utilization24hPct: 1.3888, RecordsCount: 2,
		}

		rec := s.request(http.MethodGet, "/api/metrics/daily?equipment=s100-1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var rows []*models.DailyMetrics
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
		require.Len(t, rows, 1)
		assert.Equal(t, 1200, rows[0].BusyTimeS)
	})

	t.Run("empty result is an empty array", func(t *testing.T) {
		s := newTestServer(t, "")
		rec := s.request(http.MethodGet, "/api/metrics/daily", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "[]", rec.Body.String()[:2])
	})

	t.Run("unknown equipment is 404", func(t *testing.T) {
		s := newTestServer(t, "")
		rec := s.request(http.MethodGet, "/api/metrics/daily?equipment=ghost", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad date is 400", func(t *testing.T) {
		s := newTestServer(t, "")
		rec := s.request(http.MethodGet, "/api/metrics/daily?start=wat", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleAggregateDay(t *testing.T) {
	s := newTestServer(t, "")
	day := time.Date(2025, 9, 12, 0, 0, 0, 0, time.UTC)
	addRun(s.store, "r1", "s100-1", day.Add(10*time.Hour), day.Add(11*time.Hour))

	rec := s.request(http.MethodPost, "/api/metrics/daily/recompute?equipment=s100-1&day=2025-09-12", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var m models.DailyMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, 3600, m.BusyTimeS)
	assert.Equal(t, 1, m.RecordsCount)
}

func TestHandleListRuns(t *testing.T) {
	day := time.Date(2025, 9, 12, 0, 0, 0, 0, time.UTC)

	t.Run("returns runs as json", func(t *testing.T) {
		s := newTestServer(t, "")
		addRun(s.store, "r1", "s100-1", day.Add(10*time.Hour), day.Add(11*time.Hour))

		rec := s.request(http.MethodGet, "/api/runs?equipment=s100-1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var runs []*models.Run
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, "r1", runs[0].ID)
	})

	t.Run("time window filters", func(t *testing.T) {
		s := newTestServer(t, "")
		addRun(s.store, "r1", "s100-1", day.Add(10*time.Hour), day.Add(11*time.Hour))
		addRun(s.store, "r2", "s100-1", day.Add(20*time.Hour), day.Add(21*time.Hour))

		rec := s.request(http.MethodGet, "/api/runs?start=2025-09-12&end=2025-09-12T12:00:00", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var runs []*models.Run
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, "r1", runs[0].ID)
	})

	t.Run("msgpack variant round-trips", func(t *testing.T) {
		s := newTestServer(t, "")
		addRun(s.store, "r1", "s100-1", day.Add(10*time.Hour), day.Add(11*time.Hour))

		rec := s.request(http.MethodGet, "/api/runs/msgpack", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/x-msgpack", rec.Header().Get(echo.HeaderContentType))

		var runs []*models.Run
		require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &runs))
		require.Len(t, runs, 1)
		assert.Equal(t, 3600, runs[0].DurationS)
	})
}

func TestHandleExportCSV(t *testing.T) {
	s := newTestServer(t, "")
	day := time.Date(2025, 9, 12, 0, 0, 0, 0, time.UTC)
	addRun(s.store, "r1", "s100-1", day.Add(10*time.Hour), day.Add(11*time.Hour))

	rec := s.request(http.MethodGet, "/api/reports/records.csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "attachment; filename=records_")
	assert.Contains(t, rec.Body.String(), "equipment,st_time,sp_time")
	assert.Contains(t, rec.Body.String(), "s100-1,2025-09-12 10:00:00")
}

func TestHandleExportXLSX(t *testing.T) {
	s := newTestServer(t, "")
	rec := s.request(http.MethodGet, "/api/reports/records.xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		rec.Header().Get(echo.HeaderContentType))
	assert.NotEmpty(t, rec.Body.Bytes())
}
