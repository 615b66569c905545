package api

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
)

// RequireToken gates ingestion triggers behind a static X-Token header.
// An empty configured token disables the check.
func RequireToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return next(c)
			}
			got := c.Request().Header.Get("X-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return RespondWithError(c, NewUnauthorizedError())
			}
			return next(c)
		}
	}
}

// RegisterRoutes wires all API routes onto e.
func RegisterRoutes(e *echo.Echo, h *Handler, apiToken string) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", h.HandleHealth)
	apiGroup.GET("/equipment", h.HandleListEquipment)

	// Ingestion triggers mutate the store and require the token when set.
	ingestGroup := apiGroup.Group("/ingest", RequireToken(apiToken))
	ingestGroup.POST("/current", h.HandleIngestCurrent)
	ingestGroup.POST("/historical", h.HandleIngestHistorical)

	apiGroup.GET("/metrics/daily", h.HandleDailyMetrics)
	apiGroup.POST("/metrics/daily/recompute", h.HandleAggregateDay, RequireToken(apiToken))

	apiGroup.GET("/runs", h.HandleListRuns)
	apiGroup.GET("/runs/msgpack", h.HandleListRunsMsgpack)

	apiGroup.GET("/reports/records.csv", h.HandleExportCSV)
	apiGroup.GET("/reports/records.xlsx", h.HandleExportXLSX)
}
