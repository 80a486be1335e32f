// Package export renders building bill statements for download.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/wattshare/wattshare/internal/billing"
)

// Line is one unit's row on a statement.
type Line struct {
	UnitNumber string           `json:"unit_number"`
	Bill       billing.UnitBill `json:"bill"`
}

// Statement is a building bill with every unit bill allocated against it.
type Statement struct {
	BuildingBill   billing.BuildingBill `json:"building_bill"`
	Lines          []Line               `json:"lines"`
	AllocatedTotal decimal.Decimal      `json:"allocated_total"`
	Residual       decimal.Decimal      `json:"residual"`
}

var lineHeader = []string{
	"Unit", "Tenant", "Kind", "Usage (kWh)", "Ratio",
	"Basic", "Power", "Climate", "Fuel", "Power factor", "VAT", "Power fund", "Total", "Payment",
}

func lineRecord(l Line) []string {
	b := l.Bill
	kind := string(b.Kind)
	if b.IsEstimated {
		kind += " (est.)"
	}
	return []string{
		l.UnitNumber,
		b.TenantName,
		kind,
		billing.FormatUsage(b.Usage),
		b.UsageRatio.StringFixed(5),
		billing.FormatAmount(b.BasicFee),
		billing.FormatAmount(b.PowerFee),
		billing.FormatAmount(b.ClimateFee),
		billing.FormatAmount(b.FuelFee),
		billing.FormatAmount(b.PowerFactorFee),
		billing.FormatAmount(b.VAT),
		billing.FormatAmount(b.PowerFund),
		billing.FormatAmount(b.TotalAmount),
		string(b.PaymentStatus),
	}
}

// WriteStatementCSV serialises the statement lines as CSV.
func WriteStatementCSV(w io.Writer, stmt Statement) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(lineHeader); err != nil {
		return err
	}
	for _, l := range stmt.Lines {
		if err := writer.Write(lineRecord(l)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// StatementXLSX renders a workbook with a summary sheet and a unit sheet.
// Numeric cells keep their values so the workbook stays usable for sums.
func StatementXLSX(stmt Statement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const summary, units = "summary", "units"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(units); err != nil {
		return nil, err
	}

	bb := stmt.BuildingBill
	rows := [][]any{
		{"Building Bill", bb.Period().String()},
		{},
		{"Total usage (kWh)", bb.TotalUsage.InexactFloat64()},
		{"Basic", bb.BasicFee.IntPart()},
		{"Power", bb.PowerFee.IntPart()},
		{"Climate", bb.ClimateFee.IntPart()},
		{"Fuel", bb.FuelFee.IntPart()},
		{"Power factor", bb.PowerFactorFee.IntPart()},
		{"VAT", bb.VAT.IntPart()},
		{"Power fund", bb.PowerFund.IntPart()},
		{"Round down", bb.RoundDown.IntPart()},
		{"Total amount", bb.TotalAmount.IntPart()},
		{"Allocated", stmt.AllocatedTotal.IntPart()},
		{"Residual", stmt.Residual.IntPart()},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summary, cell, &row); err != nil {
			return nil, err
		}
	}

	header := make([]any, len(lineHeader))
	for i, h := range lineHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(units, "A1", &header); err != nil {
		return nil, err
	}
	for i, l := range stmt.Lines {
		b := l.Bill
		row := []any{
			l.UnitNumber, b.TenantName, string(b.Kind),
			b.Usage.InexactFloat64(), b.UsageRatio.Round(5).InexactFloat64(),
			b.BasicFee.IntPart(), b.PowerFee.IntPart(), b.ClimateFee.IntPart(), b.FuelFee.IntPart(),
			b.PowerFactorFee.IntPart(), b.VAT.IntPart(), b.PowerFund.IntPart(), b.TotalAmount.IntPart(),
			string(b.PaymentStatus),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(units, cell, &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StatementPDF renders a one-table landscape PDF.
func StatementPDF(stmt Statement) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 14)
	bb := stmt.BuildingBill
	pdf.Cell(0, 8, fmt.Sprintf("Electricity Statement %s", bb.Period()))
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 10)
	for _, kv := range [][2]string{
		{"Building usage (kWh)", billing.FormatUsage(bb.TotalUsage)},
		{"Building total", billing.FormatAmount(bb.TotalAmount)},
		{"Allocated to units", billing.FormatAmount(stmt.AllocatedTotal)},
		{"Residual (building)", billing.FormatAmount(stmt.Residual)},
	} {
		pdf.CellFormat(50, 6, kv[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, kv[1], "", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(4)

	widths := []float64{14, 30, 24, 20, 16, 18, 18, 16, 16, 18, 16, 18, 22, 16}
	pdf.SetFont("Arial", "B", 8)
	for i, h := range lineHeader {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, l := range stmt.Lines {
		for i, v := range lineRecord(l) {
			align := "R"
			if i < 3 || i == len(widths)-1 {
				align = "L"
			}
			pdf.CellFormat(widths[i], 6, v, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
