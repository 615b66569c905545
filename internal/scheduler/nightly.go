// Package scheduler runs the nightly ingestion and aggregation job.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/s100-analytics/backend/internal/equipment"
	"github.com/s100-analytics/backend/internal/ingest"
	"github.com/s100-analytics/backend/internal/metrics"
)

// Nightly ingests the current month file for every equipment at a fixed
// local hour and recomputes yesterday's utilization. Both steps are
// idempotent, so a missed or repeated firing is harmless.
type Nightly struct {
	engine     *ingest.Engine
	aggregator *metrics.Aggregator
	registry   *equipment.Registry
	loc        *time.Location
	hour       int
	now        func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewNightly creates the nightly job firing at the given local hour (0-23).
func NewNightly(eng *ingest.Engine, agg *metrics.Aggregator, reg *equipment.Registry, loc *time.Location, hour int) *Nightly {
	return &Nightly{
		engine:     eng,
		aggregator: agg,
		registry:   reg,
		loc:        loc,
		hour:       hour,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the scheduler goroutine.
func (n *Nightly) Start() {
	go n.loop()
}

// Stop signals the scheduler to exit and waits for it.
func (n *Nightly) Stop() {
	close(n.stop)
	<-n.done
}

func (n *Nightly) loop() {
	defer close(n.done)
	for {
		wait := n.untilNextFiring()
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			n.RunOnce(context.Background())
		case <-n.stop:
			timer.Stop()
			return
		}
	}
}

// untilNextFiring returns the duration until the next occurrence of the
// configured hour in the local zone.
func (n *Nightly) untilNextFiring() time.Duration {
	now := n.now().In(n.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), n.hour, 0, 0, 0, n.loc)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// RunOnce executes one nightly pass: current-month ingest per equipment,
// then yesterday's metrics per equipment. Failures are logged per equipment
// and never abort the remaining work.
func (n *Nightly) RunOnce(ctx context.Context) {
	fmt.Printf("[Scheduler] Nightly job starting\n")

	for _, eq := range n.registry.Equipment {
		stats, err := n.engine.IngestCurrentMonth(ctx, eq.ID, eq.LogRoot)
		if err != nil {
			fmt.Printf("[Scheduler] ingest failed for %s: %v\n", eq.ID, err)
			continue
		}
		fmt.Printf("[Scheduler] %s: %d lines, %d new, %d dup\n",
			eq.ID, stats.Lines, stats.RawNew, stats.RawDup)
	}

	yesterday := metrics.StartOfDay(n.now(), n.loc).Add(-24 * time.Hour)
	for _, eq := range n.registry.Equipment {
		if _, err := n.aggregator.ComputeDay(ctx, eq.ID, yesterday); err != nil {
			fmt.Printf("[Scheduler] metrics failed for %s: %v\n", eq.ID, err)
		}
	}

	fmt.Printf("[Scheduler] Nightly job complete\n")
}
