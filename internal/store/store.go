// Package store provides the durable repository for raw log lines, runs and
// daily metrics, backed by DuckDB.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/s100-analytics/backend/internal/models"
)

// ErrConflict reports a uniqueness violation at the storage layer. During a
// file batch it means two ingestion passes raced on the same raw line; the
// caller discards the whole batch and relies on the next pass.
var ErrConflict = errors.New("store: uniqueness conflict")

// IngestTx is the transaction scope of one file-ingestion pass. Lookups see
// the transaction's own uncommitted writes, so runs created earlier in the
// same file participate in overlap search. Either Commit or Rollback must
// be called exactly once.
type IngestTx interface {
	RawExists(ctx context.Context, equipment, hashSig string) (bool, error)
	FindOverlappingRuns(ctx context.Context, key models.IdentityKey, start, end time.Time) ([]*models.Run, error)
	InsertRawLog(ctx context.Context, r *models.RawLog) error
	InsertRun(ctx context.Context, r *models.Run) error
	UpdateRun(ctx context.Context, r *models.Run) error
	Commit() error
	Rollback() error
}

// Store is the repository boundary consumed by the ingestion engine, the
// daily aggregator and the API layer.
type Store interface {
	BeginIngest(ctx context.Context) (IngestTx, error)

	// RecordIngestion upserts the audit row for (equipment, sourceFile).
	RecordIngestion(ctx context.Context, equipment, sourceFile string, at time.Time) error

	// RunsOverlappingWindow selects runs whose interval intersects the
	// half-open window [start, end).
	RunsOverlappingWindow(ctx context.Context, equipment string, start, end time.Time) ([]*models.Run, error)

	// ReplaceDailyMetrics atomically replaces the row for (equipment, day).
	ReplaceDailyMetrics(ctx context.Context, m *models.DailyMetrics) error

	DailyMetricsRange(ctx context.Context, equipment string, start, end *time.Time) ([]*models.DailyMetrics, error)
	QueryRuns(ctx context.Context, f RunFilter) ([]*models.Run, error)

	Close() error
}

// RunFilter narrows run report queries. Zero values mean "no constraint".
type RunFilter struct {
	Equipment string
	Start     *time.Time // st_time >= Start
	End       *time.Time // sp_time < End
}
