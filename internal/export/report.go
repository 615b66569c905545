// Package export renders consolidated run reports as CSV and XLSX.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/s100-analytics/backend/internal/models"
	"github.com/xuri/excelize/v2"
)

// Fixed column order of run reports. Dashboards key on these headers.
var reportHeader = []string{
	"equipment", "st_time", "sp_time", "duration_s",
	"customer", "project_code",
	"user", "prgver", "codever",
	"sample_no", "voltage", "test_item", "temp", "category", "accessory", "site",
	"eng_flag", "eng_tag",
}

const reportTimeLayout = "2006-01-02 15:04:05"

func runRecord(r *models.Run) []string {
	return []string{
		r.Equipment,
		r.StTime.Format(reportTimeLayout),
		r.SpTime.Format(reportTimeLayout),
		strconv.Itoa(r.DurationS),
		deref(r.ProjectCustomer),
		deref(r.ProjectCode),
		deref(r.User),
		deref(r.PrgVer),
		deref(r.CodeVer),
		deref(r.SampleNo),
		deref(r.Voltage),
		deref(r.TestItem),
		deref(r.Temp),
		deref(r.Category),
		deref(r.Accessory),
		deref(r.Site),
		boolFlag(r.EngFlag),
		deref(r.EngTag),
	}
}

// WriteRunsCSV streams the run report to w.
func WriteRunsCSV(w io.Writer, runs []*models.Run) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range runs {
		if err := cw.Write(runRecord(r)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRunsXLSX writes the run report as a single-sheet workbook to w.
func WriteRunsXLSX(w io.Writer, runs []*models.Run) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "records"
	f.SetSheetName("Sheet1", sheet)

	header := make([]interface{}, len(reportHeader))
	for i, h := range reportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write xlsx header: %w", err)
	}

	for i, r := range runs {
		rec := runRecord(r)
		row := make([]interface{}, len(rec))
		for j, v := range rec {
			row[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write xlsx row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

// ReportFilename returns a timestamped export file name, e.g.
// "records_20250830_230102.csv".
func ReportFilename(ext string, at time.Time) string {
	return fmt.Sprintf("records_%s.%s", at.Format("20060102_150405"), ext)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
