// Package export writes analysis results to Excel workbooks.
package export

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rewired-gh/amrwatch/internal/models"
)

const (
	rowsSheet   = "rows"
	alertsSheet = "alerts"
)

var header = []interface{}{
	"location", "organism", "timestamp", "day",
	"rate", "predicted_rate", "rate_std", "z_rate", "is_alert_rate",
	"daily_count", "predicted_count", "count_std", "z_count", "is_alert_count",
}

// WriteWorkbook saves rows and alerts to an .xlsx file at path.
func WriteWorkbook(path string, rows, alerts []models.ScoredRow) error {
	f, err := build(rows, alerts)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}

// Write streams the workbook to w, e.g. an HTTP response.
func Write(w io.Writer, rows, alerts []models.ScoredRow) error {
	f, err := build(rows, alerts)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// build lays out two sheets with the same columns: every scored row, and the
// alerts. Undefined statistics are left as blank cells.
func build(rows, alerts []models.ScoredRow) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", rowsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(alertsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	for _, s := range []struct {
		name string
		rows []models.ScoredRow
	}{{rowsSheet, rows}, {alertsSheet, alerts}} {
		if err := writeSheet(f, s.name, s.rows); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func writeSheet(f *excelize.File, sheet string, rows []models.ScoredRow) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := record(r)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func record(r models.ScoredRow) []interface{} {
	return []interface{}{
		r.Location,
		r.Organism,
		r.Timestamp.Format(time.DateTime),
		r.Day.Format(time.DateOnly),
		number(r.Rate),
		number(r.PredictedRate),
		number(r.RateStd),
		number(r.ZRate),
		r.IsAlertRate,
		number(r.DailyCount),
		number(r.PredictedCount),
		number(r.CountStd),
		number(r.ZCount),
		r.IsAlertCount,
	}
}

// number maps non-finite values to nil, which excelize writes as an empty cell.
func number(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
