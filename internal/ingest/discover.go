package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/s100-analytics/backend/internal/models"
)

// monthFileSuffix is the fixed naming convention for equipment run-time
// logs: YYYYMM_total_run_time.txt.
const monthFileSuffix = "_total_run_time.txt"

// MonthFilePath returns the expected path of the month file under rootDir,
// or "" when the file does not exist.
func MonthFilePath(rootDir string, year int, month int) string {
	name := fmt.Sprintf("%04d%02d%s", year, month, monthFileSuffix)
	path := filepath.Join(rootDir, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return ""
	}
	return path
}

// IngestCurrentMonth ingests the current month's file for one equipment.
// A missing file means nothing to ingest and yields a zero tally.
func (e *Engine) IngestCurrentMonth(ctx context.Context, equipment, rootDir string) (models.IngestStats, error) {
	now := e.now().In(e.loc)
	path := MonthFilePath(rootDir, now.Year(), int(now.Month()))
	if path == "" {
		return models.IngestStats{}, nil
	}
	return e.IngestFile(ctx, equipment, path)
}

// IngestHistorical ingests every *_total_run_time.txt file in the
// historical subdirectory under rootDir, in name order, and sums the
// tallies. A missing directory yields a zero tally.
func (e *Engine) IngestHistorical(ctx context.Context, equipment, rootDir, histDirName string) (models.IngestStats, error) {
	var total models.IngestStats

	histDir := filepath.Join(rootDir, histDirName)
	entries, err := os.ReadDir(histDir)
	if err != nil {
		if os.IsNotExist(err) {
			return total, nil
		}
		return total, fmt.Errorf("read %s: %w", histDir, err)
	}

	var names []string
	for _, ent := range entries {
		if !ent.IsDir() && strings.HasSuffix(ent.Name(), monthFileSuffix) {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		stats, err := e.IngestFile(ctx, equipment, filepath.Join(histDir, name))
		if err != nil {
			return total, err
		}
		total.Add(stats)
	}
	return total, nil
}
