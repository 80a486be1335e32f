// Package usageimport reads per-unit meter usage from spreadsheet uploads.
package usageimport

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ErrNoHeader indicates the sheet has no row naming the unit and usage columns.
var ErrNoHeader = errors.New("usageimport: header row with unit and usage columns not found")

// headerScanRows bounds how far down the header row is searched for.
const headerScanRows = 10

var (
	unitHeaders  = []string{"unit", "unit_number", "unit number", "호수", "호실"}
	usageHeaders = []string{"usage", "usage_kwh", "usage (kwh)", "kwh", "사용량"}
)

// Row is one unit's usage for a cycle.
type Row struct {
	Line       int             `json:"line"`
	UnitNumber string          `json:"unit_number"`
	Usage      decimal.Decimal `json:"usage"`
}

// RowError reports a cell that could not be read.
type RowError struct {
	Line  int
	Value string
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("usageimport: row %d: %q: %v", e.Line, e.Value, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Options tunes ParseXLSX.
type Options struct {
	// Sheet selects a sheet by name; the first sheet is used when empty.
	Sheet string
}

// ParseXLSX reads unit numbers and usage from a workbook. Blank rows are
// skipped. Line numbers in rows and errors are 1-based spreadsheet rows.
func ParseXLSX(r io.Reader, opts Options) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("usageimport: open workbook: %w", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrNoHeader
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("usageimport: read sheet %q: %w", sheet, err)
	}

	headerAt, unitCol, usageCol := -1, -1, -1
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		unitCol, usageCol = columnIndex(rows[i], unitHeaders), columnIndex(rows[i], usageHeaders)
		if unitCol >= 0 && usageCol >= 0 {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, ErrNoHeader
	}

	var out []Row
	for i := headerAt + 1; i < len(rows); i++ {
		line := i + 1
		unit := strings.TrimSpace(cell(rows[i], unitCol))
		raw := strings.TrimSpace(cell(rows[i], usageCol))
		if unit == "" && raw == "" {
			continue
		}
		if unit == "" {
			return nil, &RowError{Line: line, Value: raw, Err: errors.New("unit number is empty")}
		}
		usage, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
		if err != nil {
			return nil, &RowError{Line: line, Value: raw, Err: errors.New("usage is not a number")}
		}
		if usage.IsNegative() {
			return nil, &RowError{Line: line, Value: raw, Err: errors.New("usage is negative")}
		}
		out = append(out, Row{Line: line, UnitNumber: unit, Usage: usage})
	}
	return out, nil
}

func columnIndex(row []string, names []string) int {
	for i, v := range row {
		v = strings.ToLower(strings.TrimSpace(v))
		for _, name := range names {
			if v == name {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
