package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/s100-analytics/backend/internal/models"
	"github.com/s100-analytics/backend/internal/store"
)

// Engine runs file-ingestion passes against the store. Passes for the same
// equipment are serialized with a per-equipment lock; the overlap-search-
// then-mutate sequence on runs is not atomic on its own, so two concurrent
// passes over the same equipment could otherwise produce duplicate runs.
// Passes for different equipment run independently.
type Engine struct {
	store store.Store
	loc   *time.Location
	now   func() time.Time

	mu      sync.Mutex
	equipMu map[string]*sync.Mutex
}

// NewEngine creates an ingestion engine. loc is the fixed local zone all
// timestamps are normalized into.
func NewEngine(s store.Store, loc *time.Location) *Engine {
	return &Engine{
		store:   s,
		loc:     loc,
		now:     time.Now,
		equipMu: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockEquipment(equipment string) *sync.Mutex {
	e.mu.Lock()
	m, ok := e.equipMu[equipment]
	if !ok {
		m = &sync.Mutex{}
		e.equipMu[equipment] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m
}

// IngestFile ingests one log file for the given equipment. The whole file is
// one transaction: either every accepted line commits or none do. A missing
// file is not an error and yields a zero tally; a storage uniqueness
// conflict rolls the batch back and likewise yields a zero tally, leaving
// the lines to be re-evaluated on the next pass.
func (e *Engine) IngestFile(ctx context.Context, equipment, filePath string) (models.IngestStats, error) {
	var stats models.IngestStats

	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	mu := e.lockEquipment(equipment)
	defer mu.Unlock()

	tx, err := e.store.BeginIngest(ctx)
	if err != nil {
		return models.IngestStats{}, fmt.Errorf("begin ingest: %w", err)
	}

	stats, err = e.ingestLines(ctx, tx, equipment, filePath, f)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, store.ErrConflict) {
			fmt.Printf("[Ingest] conflict on %s, batch discarded: %v\n", filePath, err)
			return models.IngestStats{}, nil
		}
		return models.IngestStats{}, err
	}

	if err := tx.Commit(); err != nil {
		if errors.Is(err, store.ErrConflict) {
			fmt.Printf("[Ingest] conflict committing %s, batch discarded: %v\n", filePath, err)
			return models.IngestStats{}, nil
		}
		return models.IngestStats{}, fmt.Errorf("commit %s: %w", filePath, err)
	}

	if err := e.store.RecordIngestion(ctx, equipment, filePath, e.now().In(e.loc)); err != nil {
		fmt.Printf("[Ingest] warning: audit record for %s failed: %v\n", filePath, err)
	}
	return stats, nil
}

func (e *Engine) ingestLines(ctx context.Context, tx store.IngestTx, equipment, filePath string, f *os.File) (models.IngestStats, error) {
	var stats models.IngestStats
	insertedAt := naiveNow(e.now(), e.loc)

	// Fingerprints accepted earlier in this same pass. Duplicate lines
	// inside one file must be caught before anything is flushed.
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		stats.Lines++

		kv := ParseKeyVals(line)
		hash := Fingerprint(equipment, kv["StTime"], kv["SpTime"], kv["Project"], kv["LogName"])

		if _, dup := seen[hash]; dup {
			stats.RawDup++
			continue
		}
		exists, err := tx.RawExists(ctx, equipment, hash)
		if err != nil {
			return stats, fmt.Errorf("raw lookup: %w", err)
		}
		if exists {
			stats.RawDup++
			continue
		}

		raw := buildRawLog(equipment, filePath, lineNo, kv, hash, insertedAt, e.loc)
		if err := tx.InsertRawLog(ctx, raw); err != nil {
			return stats, fmt.Errorf("insert raw line %d: %w", lineNo, err)
		}
		stats.RawNew++
		seen[hash] = struct{}{}

		if err := e.consolidateRun(ctx, tx, raw, &stats); err != nil {
			return stats, fmt.Errorf("consolidate line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read %s: %w", filePath, err)
	}
	return stats, nil
}

func buildRawLog(equipment, filePath string, lineNo int, kv map[string]string, hash string, insertedAt time.Time, loc *time.Location) *models.RawLog {
	user := optString(kv, "User")
	prgVer := optString(kv, "PrgVer")
	codeVer := optString(kv, "CodeVer")
	projectRaw := optString(kv, "Project")
	logNameRaw := optString(kv, "LogName")

	customer, code := SplitProject(projectRaw)

	raw := &models.RawLog{
		ID:              uuid.New().String(),
		Equipment:       equipment,
		SourceFile:      filePath,
		LineNo:          lineNo,
		StTime:          ParseTime(kv["StTime"], loc),
		SpTime:          ParseTime(kv["SpTime"], loc),
		TotalS:          parseTotalSeconds(kv),
		ProjectRaw:      projectRaw,
		ProjectCustomer: customer,
		ProjectCode:     code,
		User:            user,
		PrgVer:          prgVer,
		CodeVer:         codeVer,
		LogNameRaw:      logNameRaw,
		LogNameFields:   ParseLogName(logNameRaw),
		MissingUser:     user == nil || *user == "",
		MissingPrgVer:   prgVer == nil || *prgVer == "",
		MissingCodeVer:  codeVer == nil || *codeVer == "",
		HashSig:         hash,
		InsertedAt:      insertedAt,
	}
	return raw
}

// consolidateRun decides whether an accepted line starts a new run or folds
// into an existing one. Lines lacking start, stop or declared total time
// contribute no run. Overlap is tested on closed intervals (touching
// endpoints count); among overlapping candidates the one with the longest
// current duration wins, and a new line replaces it only when its declared
// total is strictly longer, extending the interval to the union.
func (e *Engine) consolidateRun(ctx context.Context, tx store.IngestTx, raw *models.RawLog, stats *models.IngestStats) error {
	if raw.StTime == nil || raw.SpTime == nil || raw.TotalS == nil {
		return nil
	}
	st, sp, total := *raw.StTime, *raw.SpTime, *raw.TotalS

	observed := int(sp.Sub(st).Seconds())
	if observed < 0 {
		observed = -observed
	}
	consistent := abs(observed-total) <= 1

	key := models.IdentityKey{
		Equipment: raw.Equipment,
		Customer:  raw.ProjectCustomer,
		Code:      raw.ProjectCode,
		SampleNo:  raw.SampleNo,
		TestItem:  raw.TestItem,
	}
	candidates, err := tx.FindOverlappingRuns(ctx, key, st, sp)
	if err != nil {
		return fmt.Errorf("overlap search: %w", err)
	}

	if len(candidates) > 0 {
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c.DurationS > best.DurationS {
				best = c
			}
		}
		if total > best.DurationS {
			if st.Before(best.StTime) {
				best.StTime = st
			}
			if sp.After(best.SpTime) {
				best.SpTime = sp
			}
			best.DurationS = int(best.SpTime.Sub(best.StTime).Seconds())
			best.SourceCount++
			best.DedupStatus = models.DedupStatusReplaced
			if err := tx.UpdateRun(ctx, best); err != nil {
				return fmt.Errorf("extend run %s: %w", best.ID, err)
			}
		}
		// Replace and discard share one counter.
		stats.RunsDupsOrReplaced++
		return nil
	}

	run := &models.Run{
		ID:              uuid.New().String(),
		Equipment:       raw.Equipment,
		StTime:          st,
		SpTime:          sp,
		DurationS:       observed,
		ProjectCustomer: raw.ProjectCustomer,
		ProjectCode:     raw.ProjectCode,
		User:            raw.User,
		PrgVer:          raw.PrgVer,
		CodeVer:         raw.CodeVer,
		LogNameFields:   raw.LogNameFields,
		SourceCount:     1,
		DedupStatus:     models.DedupStatusKept,
	}
	if !consistent {
		// Declared total wins when the interval disagrees beyond tolerance.
		run.DurationS = total
		reason := models.ConflictTimeMismatch
		run.ConflictReason = &reason
	}
	if err := tx.InsertRun(ctx, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	stats.RunsNew++
	return nil
}

// parseTotalSeconds reads the TotalTime field, tolerating a trailing "s"
// suffix and fractional values ("3600s", "3600.5"). Unparseable totals
// degrade to nil.
func parseTotalSeconds(kv map[string]string) *int {
	v, ok := kv["TotalTime"]
	if !ok {
		return nil
	}
	t := strings.TrimRight(v, "s")
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return nil
	}
	total := int(f)
	return &total
}

func optString(kv map[string]string, key string) *string {
	v, ok := kv[key]
	if !ok {
		return nil
	}
	return &v
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// naiveNow renders the current wall time in loc as a naive instant, matching
// the representation used for parsed timestamps.
func naiveNow(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}
