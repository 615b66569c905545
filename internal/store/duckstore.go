package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/s100-analytics/backend/internal/models"
)

// DuckStore persists raw log lines, runs and daily metrics in a DuckDB
// file. One store instance is shared by the ingestion engine, the
// aggregator and the API layer.
type DuckStore struct {
	db     *sql.DB
	dbPath string
}

// NewDuckStore opens (creating if needed) the analytics database at dbPath.
func NewDuckStore(dbPath string) (*DuckStore, error) {
	fmt.Printf("[DuckStore] Opening database at: %s\n", dbPath)

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='512MB'",
			"PRAGMA threads=4",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	ds := &DuckStore{db: db, dbPath: dbPath}
	if err := ds.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return ds, nil
}

func (ds *DuckStore) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS raw_logs (
			id              VARCHAR PRIMARY KEY,
			equipment       VARCHAR NOT NULL,
			source_file     VARCHAR NOT NULL,
			line_no         INTEGER NOT NULL,
			st_time         TIMESTAMP,
			sp_time         TIMESTAMP,
			total_s         INTEGER,
			project_raw     VARCHAR,
			project_customer VARCHAR,
			project_code    VARCHAR,
			username        VARCHAR,
			prgver          VARCHAR,
			codever         VARCHAR,
			logname_raw     VARCHAR,
			sample_no       VARCHAR,
			voltage         VARCHAR,
			test_item       VARCHAR,
			temp            VARCHAR,
			category        VARCHAR,
			accessory       VARCHAR,
			site            VARCHAR,
			eng_flag        BOOLEAN NOT NULL,
			eng_tag         VARCHAR,
			missing_user    BOOLEAN NOT NULL,
			missing_prgver  BOOLEAN NOT NULL,
			missing_codever BOOLEAN NOT NULL,
			hash_sig        VARCHAR NOT NULL,
			inserted_at     TIMESTAMP NOT NULL,
			UNIQUE (equipment, hash_sig)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id              VARCHAR PRIMARY KEY,
			equipment       VARCHAR NOT NULL,
			st_time         TIMESTAMP NOT NULL,
			sp_time         TIMESTAMP NOT NULL,
			duration_s      INTEGER NOT NULL,
			project_customer VARCHAR,
			project_code    VARCHAR,
			username        VARCHAR,
			prgver          VARCHAR,
			codever         VARCHAR,
			sample_no       VARCHAR,
			voltage         VARCHAR,
			test_item       VARCHAR,
			temp            VARCHAR,
			category        VARCHAR,
			accessory       VARCHAR,
			site            VARCHAR,
			eng_flag        BOOLEAN NOT NULL,
			eng_tag         VARCHAR,
			source_count    INTEGER NOT NULL,
			dedup_status    VARCHAR NOT NULL,
			conflict_reason VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS metrics_daily (
			equipment           VARCHAR NOT NULL,
			day                 TIMESTAMP NOT NULL,
			busy_time_s         INTEGER NOT NULL,
			utilization_24h_pct DOUBLE NOT NULL,
			records_count       INTEGER NOT NULL,
			UNIQUE (equipment, day)
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_state (
			equipment        VARCHAR NOT NULL,
			source_file      VARCHAR NOT NULL,
			last_ingested_at TIMESTAMP NOT NULL,
			UNIQUE (equipment, source_file)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_equipment_time ON raw_logs(equipment, st_time, sp_time)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_equipment_time ON runs(equipment, st_time, sp_time)`,
	}
	for _, stmt := range stmts {
		if _, err := ds.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// isConflict reports whether err is a uniqueness-constraint violation.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Constraint Error") || strings.Contains(msg, "Duplicate key")
}

func wrapConflict(err error, op string) error {
	if isConflict(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// BeginIngest starts the transaction scoping one file-ingestion pass.
func (ds *DuckStore) BeginIngest(ctx context.Context) (IngestTx, error) {
	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &duckIngestTx{tx: tx}, nil
}

type duckIngestTx struct {
	tx *sql.Tx
}

func (t *duckIngestTx) RawExists(ctx context.Context, equipment, hashSig string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx,
		`SELECT 1 FROM raw_logs WHERE equipment = ? AND hash_sig = ? LIMIT 1`,
		equipment, hashSig).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *duckIngestTx) InsertRawLog(ctx context.Context, r *models.RawLog) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO raw_logs (
			id, equipment, source_file, line_no, st_time, sp_time, total_s,
			project_raw, project_customer, project_code,
			username, prgver, codever,
			logname_raw, sample_no, voltage, test_item, temp, category, accessory, site,
			eng_flag, eng_tag, missing_user, missing_prgver, missing_codever,
			hash_sig, inserted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Equipment, r.SourceFile, r.LineNo, nullTime(r.StTime), nullTime(r.SpTime), nullInt(r.TotalS),
		nullStr(r.ProjectRaw), nullStr(r.ProjectCustomer), nullStr(r.ProjectCode),
		nullStr(r.User), nullStr(r.PrgVer), nullStr(r.CodeVer),
		nullStr(r.LogNameRaw), nullStr(r.SampleNo), nullStr(r.Voltage), nullStr(r.TestItem),
		nullStr(r.Temp), nullStr(r.Category), nullStr(r.Accessory), nullStr(r.Site),
		r.EngFlag, nullStr(r.EngTag), r.MissingUser, r.MissingPrgVer, r.MissingCodeVer,
		r.HashSig, r.InsertedAt,
	)
	if err != nil {
		return wrapConflict(err, "insert raw_logs")
	}
	return nil
}

// FindOverlappingRuns searches runs with the same identity key whose closed
// interval overlaps [start, end]. IS NOT DISTINCT FROM makes nil identity
// fields match nil stored values.
func (t *duckIngestTx) FindOverlappingRuns(ctx context.Context, key models.IdentityKey, start, end time.Time) ([]*models.Run, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE equipment = ?
		  AND project_customer IS NOT DISTINCT FROM ?
		  AND project_code IS NOT DISTINCT FROM ?
		  AND sample_no IS NOT DISTINCT FROM ?
		  AND test_item IS NOT DISTINCT FROM ?
		  AND st_time <= ? AND sp_time >= ?`,
		key.Equipment, nullStr(key.Customer), nullStr(key.Code),
		nullStr(key.SampleNo), nullStr(key.TestItem),
		end, start,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (t *duckIngestTx) InsertRun(ctx context.Context, r *models.Run) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, equipment, st_time, sp_time, duration_s,
			project_customer, project_code, username, prgver, codever,
			sample_no, voltage, test_item, temp, category, accessory, site,
			eng_flag, eng_tag, source_count, dedup_status, conflict_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Equipment, r.StTime, r.SpTime, r.DurationS,
		nullStr(r.ProjectCustomer), nullStr(r.ProjectCode),
		nullStr(r.User), nullStr(r.PrgVer), nullStr(r.CodeVer),
		nullStr(r.SampleNo), nullStr(r.Voltage), nullStr(r.TestItem),
		nullStr(r.Temp), nullStr(r.Category), nullStr(r.Accessory), nullStr(r.Site),
		r.EngFlag, nullStr(r.EngTag), r.SourceCount, string(r.DedupStatus), nullStr(r.ConflictReason),
	)
	if err != nil {
		return wrapConflict(err, "insert runs")
	}
	return nil
}

func (t *duckIngestTx) UpdateRun(ctx context.Context, r *models.Run) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE runs
		SET st_time = ?, sp_time = ?, duration_s = ?, source_count = ?, dedup_status = ?
		WHERE id = ?`,
		r.StTime, r.SpTime, r.DurationS, r.SourceCount, string(r.DedupStatus), r.ID,
	)
	if err != nil {
		return fmt.Errorf("update runs: %w", err)
	}
	return nil
}

func (t *duckIngestTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return wrapConflict(err, "commit ingest")
	}
	return nil
}

func (t *duckIngestTx) Rollback() error {
	return t.tx.Rollback()
}

// RecordIngestion upserts the audit row for a successfully committed file.
func (ds *DuckStore) RecordIngestion(ctx context.Context, equipment, sourceFile string, at time.Time) error {
	_, err := ds.db.ExecContext(ctx, `
		INSERT INTO ingestion_state (equipment, source_file, last_ingested_at)
		VALUES (?, ?, ?)
		ON CONFLICT (equipment, source_file) DO UPDATE SET last_ingested_at = excluded.last_ingested_at`,
		equipment, sourceFile, at,
	)
	if err != nil {
		return fmt.Errorf("record ingestion: %w", err)
	}
	return nil
}

// RunsOverlappingWindow selects runs intersecting the half-open window
// [start, end).
func (ds *DuckStore) RunsOverlappingWindow(ctx context.Context, equipment string, start, end time.Time) ([]*models.Run, error) {
	rows, err := ds.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE equipment = ? AND st_time < ? AND sp_time > ?
		ORDER BY st_time`,
		equipment, end, start,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ReplaceDailyMetrics replaces the row for (equipment, day) atomically via
// delete-then-insert in one transaction.
func (ds *DuckStore) ReplaceDailyMetrics(ctx context.Context, m *models.DailyMetrics) error {
	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM metrics_daily WHERE equipment = ? AND day = ?`,
		m.Equipment, m.Day); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete metrics_daily: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO metrics_daily (equipment, day, busy_time_s, utilization_24h_pct, records_count)
		VALUES (?, ?, ?, ?, ?)`,
		m.Equipment, m.Day, m.BusyTimeS, m.Utilization24hPct, m.RecordsCount); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert metrics_daily: %w", err)
	}
	return tx.Commit()
}

// DailyMetricsRange returns metrics rows for equipment ordered by day.
// start is inclusive, end exclusive; either may be nil.
func (ds *DuckStore) DailyMetricsRange(ctx context.Context, equipment string, start, end *time.Time) ([]*models.DailyMetrics, error) {
	query := `SELECT equipment, day, busy_time_s, utilization_24h_pct, records_count
		FROM metrics_daily WHERE equipment = ?`
	args := []interface{}{equipment}
	if start != nil {
		query += ` AND day >= ?`
		args = append(args, *start)
	}
	if end != nil {
		query += ` AND day < ?`
		args = append(args, *end)
	}
	query += ` ORDER BY day`

	rows, err := ds.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DailyMetrics
	for rows.Next() {
		m := &models.DailyMetrics{}
		if err := rows.Scan(&m.Equipment, &m.Day, &m.BusyTimeS, &m.Utilization24hPct, &m.RecordsCount); err != nil {
			return nil, err
		}
		m.Day = m.Day.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// QueryRuns returns runs matching the filter, ordered by start time.
func (ds *DuckStore) QueryRuns(ctx context.Context, f RunFilter) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []interface{}
	if f.Equipment != "" {
		query += ` AND equipment = ?`
		args = append(args, f.Equipment)
	}
	if f.Start != nil {
		query += ` AND st_time >= ?`
		args = append(args, *f.Start)
	}
	if f.End != nil {
		query += ` AND sp_time < ?`
		args = append(args, *f.End)
	}
	query += ` ORDER BY st_time`

	rows, err := ds.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Close closes the underlying database. The file is kept; this is durable
// storage, not a scratch session.
func (ds *DuckStore) Close() error {
	return ds.db.Close()
}

const runColumns = `id, equipment, st_time, sp_time, duration_s,
	project_customer, project_code, username, prgver, codever,
	sample_no, voltage, test_item, temp, category, accessory, site,
	eng_flag, eng_tag, source_count, dedup_status, conflict_reason`

func scanRuns(rows *sql.Rows) ([]*models.Run, error) {
	var out []*models.Run
	for rows.Next() {
		r := &models.Run{}
		var (
			customer, code, user, prgver, codever          sql.NullString
			sampleNo, voltage, testItem, temp              sql.NullString
			category, accessory, site, engTag, conflictRsn sql.NullString
			dedupStatus                                    string
		)
		err := rows.Scan(
			&r.ID, &r.Equipment, &r.StTime, &r.SpTime, &r.DurationS,
			&customer, &code, &user, &prgver, &codever,
			&sampleNo, &voltage, &testItem, &temp,
			&category, &accessory, &site,
			&r.EngFlag, &engTag, &r.SourceCount, &dedupStatus, &conflictRsn,
		)
		if err != nil {
			return nil, err
		}
		r.StTime = r.StTime.UTC()
		r.SpTime = r.SpTime.UTC()
		r.ProjectCustomer = strPtr(customer)
		r.ProjectCode = strPtr(code)
		r.User = strPtr(user)
		r.PrgVer = strPtr(prgver)
		r.CodeVer = strPtr(codever)
		r.SampleNo = strPtr(sampleNo)
		r.Voltage = strPtr(voltage)
		r.TestItem = strPtr(testItem)
		r.Temp = strPtr(temp)
		r.Category = strPtr(category)
		r.Accessory = strPtr(accessory)
		r.Site = strPtr(site)
		r.EngTag = strPtr(engTag)
		r.DedupStatus = models.DedupStatus(dedupStatus)
		r.ConflictReason = strPtr(conflictRsn)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(n *int) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
