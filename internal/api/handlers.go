package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/s100-analytics/backend/internal/equipment"
	"github.com/s100-analytics/backend/internal/export"
	"github.com/s100-analytics/backend/internal/ingest"
	"github.com/s100-analytics/backend/internal/metrics"
	"github.com/s100-analytics/backend/internal/models"
	"github.com/s100-analytics/backend/internal/store"
	"github.com/vmihailenco/msgpack/v5"
)

// Handler handles API requests.
type Handler struct {
	store      store.Store
	engine     *ingest.Engine
	aggregator *metrics.Aggregator
	registry   *equipment.Registry
	histDir    string
	loc        *time.Location
	now        func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, eng *ingest.Engine, agg *metrics.Aggregator, reg *equipment.Registry, histDir string, loc *time.Location) *Handler {
	return &Handler{
		store:      s,
		engine:     eng,
		aggregator: agg,
		registry:   reg,
		histDir:    histDir,
		loc:        loc,
		now:        time.Now,
	}
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// HandleListEquipment returns the equipment roster.
func (h *Handler) HandleListEquipment(c echo.Context) error {
	return c.JSON(http.StatusOK, h.registry.Equipment)
}

// HandleIngestCurrent ingests the current month file for every equipment and
// refreshes today's metrics so far. Returns the summed tally.
func (h *Handler) HandleIngestCurrent(c echo.Context) error {
	ctx := c.Request().Context()
	var total models.IngestStats

	for _, eq := range h.registry.Equipment {
		stats, err := h.engine.IngestCurrentMonth(ctx, eq.ID, eq.LogRoot)
		if err != nil {
			return RespondWithError(c, NewInternalError(fmt.Sprintf("ingest failed for %s", eq.ID), err))
		}
		total.Add(stats)
	}

	today := metrics.StartOfDay(h.now(), h.loc)
	for _, eq := range h.registry.Equipment {
		if _, err := h.aggregator.ComputeDay(ctx, eq.ID, today); err != nil {
			return RespondWithError(c, NewInternalError(fmt.Sprintf("metrics failed for %s", eq.ID), err))
		}
	}

	return c.JSON(http.StatusOK, total)
}

// HandleIngestHistorical ingests every historical month file for every
// equipment. Returns the summed tally.
func (h *Handler) HandleIngestHistorical(c echo.Context) error {
	ctx := c.Request().Context()
	var total models.IngestStats

	for _, eq := range h.registry.Equipment {
		stats, err := h.engine.IngestHistorical(ctx, eq.ID, eq.LogRoot, h.histDir)
		if err != nil {
			return RespondWithError(c, NewInternalError(fmt.Sprintf("historical ingest failed for %s", eq.ID), err))
		}
		total.Add(stats)
	}

	return c.JSON(http.StatusOK, total)
}

// HandleDailyMetrics returns daily utilization rows for one equipment.
// Query params: equipment (defaults to first roster entry), start (inclusive,
// YYYY-MM-DD), end (exclusive, YYYY-MM-DD).
func (h *Handler) HandleDailyMetrics(c echo.Context) error {
	equipID := c.QueryParam("equipment")
	if equipID == "" {
		equipID = h.registry.Equipment[0].ID
	}
	if _, ok := h.registry.Get(equipID); !ok {
		return RespondWithError(c, NewNotFoundError("equipment", equipID))
	}

	start, err := parseDayParam(c.QueryParam("start"))
	if err != nil {
		return RespondWithError(c, NewBadRequestError("invalid start date", err))
	}
	end, err := parseDayParam(c.QueryParam("end"))
	if err != nil {
		return RespondWithError(c, NewBadRequestError("invalid end date", err))
	}

	rows, err := h.store.DailyMetricsRange(c.Request().Context(), equipID, start, end)
	if err != nil {
		return RespondWithError(c, NewInternalError("failed to query daily metrics", err))
	}
	if rows == nil {
		rows = []*models.DailyMetrics{}
	}
	return c.JSON(http.StatusOK, rows)
}

// HandleAggregateDay recomputes metrics for one (equipment, day) on demand.
// Query params: equipment (required), day (YYYY-MM-DD, defaults to today).
func (h *Handler) HandleAggregateDay(c echo.Context) error {
	equipID := c.QueryParam("equipment")
	if _, ok := h.registry.Get(equipID); !ok {
		return RespondWithError(c, NewNotFoundError("equipment", equipID))
	}

	day := metrics.StartOfDay(h.now(), h.loc)
	if s := c.QueryParam("day"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			return RespondWithError(c, NewBadRequestError("invalid day", err))
		}
		day = parsed
	}

	m, err := h.aggregator.ComputeDay(c.Request().Context(), equipID, day)
	if err != nil {
		return RespondWithError(c, NewInternalError("failed to compute daily metrics", err))
	}
	return c.JSON(http.StatusOK, m)
}

// HandleListRuns returns consolidated runs as JSON.
// Query params: equipment, start (st_time >=), end (sp_time <).
func (h *Handler) HandleListRuns(c echo.Context) error {
	runs, apiErr := h.queryRuns(c)
	if apiErr != nil {
		return RespondWithError(c, apiErr)
	}
	return c.JSON(http.StatusOK, runs)
}

// HandleListRunsMsgpack returns consolidated runs as msgpack for the
// dashboard bulk path.
func (h *Handler) HandleListRunsMsgpack(c echo.Context) error {
	runs, apiErr := h.queryRuns(c)
	if apiErr != nil {
		return RespondWithError(c, apiErr)
	}
	data, err := msgpack.Marshal(runs)
	if err != nil {
		return RespondWithError(c, NewInternalError("failed to encode runs", err))
	}
	return c.Blob(http.StatusOK, "application/x-msgpack", data)
}

// HandleExportCSV streams the run report as a CSV attachment.
func (h *Handler) HandleExportCSV(c echo.Context) error {
	runs, apiErr := h.queryRuns(c)
	if apiErr != nil {
		return RespondWithError(c, apiErr)
	}

	name := export.ReportFilename("csv", h.now().In(h.loc))
	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s", name))
	c.Response().WriteHeader(http.StatusOK)
	return export.WriteRunsCSV(c.Response(), runs)
}

// HandleExportXLSX streams the run report as an XLSX attachment.
func (h *Handler) HandleExportXLSX(c echo.Context) error {
	runs, apiErr := h.queryRuns(c)
	if apiErr != nil {
		return RespondWithError(c, apiErr)
	}

	name := export.ReportFilename("xlsx", h.now().In(h.loc))
	c.Response().Header().Set(echo.HeaderContentType,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s", name))
	c.Response().WriteHeader(http.StatusOK)
	return export.WriteRunsXLSX(c.Response(), runs)
}

func (h *Handler) queryRuns(c echo.Context) ([]*models.Run, *APIError) {
	equipID := c.QueryParam("equipment")
	if equipID != "" {
		if _, ok := h.registry.Get(equipID); !ok {
			return nil, NewNotFoundError("equipment", equipID)
		}
	}

	start, err := parseTimeParam(c.QueryParam("start"))
	if err != nil {
		return nil, NewBadRequestError("invalid start time", err)
	}
	end, err := parseTimeParam(c.QueryParam("end"))
	if err != nil {
		return nil, NewBadRequestError("invalid end time", err)
	}

	runs, err := h.store.QueryRuns(c.Request().Context(), store.RunFilter{
		Equipment: equipID,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, NewInternalError("failed to query runs", err)
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	return runs, nil
}

// parseDayParam parses an optional YYYY-MM-DD query value.
func parseDayParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseTimeParam parses an optional date or date-time query value.
func parseTimeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized time value %q", s)
}
