package models

import "time"

// DailyMetrics is one utilization row per (equipment, calendar day). Rows
// are replaced wholesale on recomputation, never partially updated.
type DailyMetrics struct {
	Equipment         string    `json:"equipment"`
	Day               time.Time `json:"day"` // start of day, local naive
	BusyTimeS         int       `json:"busyTimeS"`
	Utilization24hPct float64   `json:"utilization24hPct"`
	RecordsCount      int       `json:"recordsCount"` // pre-merge overlap count
}
