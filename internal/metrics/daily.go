// Package metrics computes per-day equipment utilization from consolidated
// runs.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/s100-analytics/backend/internal/models"
	"github.com/s100-analytics/backend/internal/store"
)

// Interval is a half-open time span used during daily aggregation.
type Interval struct {
	Start time.Time
	End   time.Time
}

// MergeIntervals unions a set of intervals with a single sorted sweep.
// Touching intervals merge: current.Start <= last.End extends the last kept
// interval rather than opening a new one.
func MergeIntervals(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []Interval{sorted[0]}
	for _, cur := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !cur.Start.After(last.End) {
			if cur.End.After(last.End) {
				last.End = cur.End
			}
		} else {
			merged = append(merged, cur)
		}
	}
	return merged
}

// Aggregator owns DailyMetrics rows; no other component writes them.
type Aggregator struct {
	store store.Store
}

// NewAggregator creates a daily utilization aggregator.
func NewAggregator(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// ComputeDay recomputes utilization for exactly one 24-hour window starting
// at day (a local naive start-of-day instant) and replaces the stored row.
// The operation is idempotent: re-running it for the same day has identical
// effect, which makes it safe to repeat after a crash.
func (a *Aggregator) ComputeDay(ctx context.Context, equipment string, day time.Time) (*models.DailyMetrics, error) {
	start := day
	end := day.Add(24 * time.Hour)

	runs, err := a.store.RunsOverlappingWindow(ctx, equipment, start, end)
	if err != nil {
		return nil, fmt.Errorf("select runs for %s: %w", equipment, err)
	}

	intervals := make([]Interval, 0, len(runs))
	for _, r := range runs {
		clipStart, clipEnd := r.StTime, r.SpTime
		if clipStart.Before(start) {
			clipStart = start
		}
		if clipEnd.After(end) {
			clipEnd = end
		}
		if clipStart.Before(clipEnd) {
			intervals = append(intervals, Interval{Start: clipStart, End: clipEnd})
		}
	}

	busy := 0
	for _, iv := range MergeIntervals(intervals) {
		busy += int(iv.End.Sub(iv.Start).Seconds())
	}

	m := &models.DailyMetrics{
		Equipment:         equipment,
		Day:               start,
		BusyTimeS:         busy,
		Utilization24hPct: float64(busy) / 86400.0 * 100.0,
		// Raw overlap count, before clipping and merging.
		RecordsCount: len(runs),
	}
	if err := a.store.ReplaceDailyMetrics(ctx, m); err != nil {
		return nil, fmt.Errorf("replace daily metrics: %w", err)
	}
	return m, nil
}

// StartOfDay truncates t to its local calendar day in loc, returned as a
// naive instant.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
