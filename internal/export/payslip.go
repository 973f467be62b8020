package export

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"payline/internal/domain"
)

// RenderPayslips produces one PDF for the whole run, one page per line.
func RenderPayslips(snap Snapshot, company Company) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Payslips %s to %s", snap.Period.StartDate, snap.Period.EndDate), false)

	for _, it := range snap.Items {
		writePayslipPage(pdf, snap, company, it)
	}
	if len(snap.Items) == 0 {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "", 12)
		pdf.Cell(0, 10, "No pay items in this run.")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render payslips: %w", err)
	}
	return buf.Bytes(), nil
}

func writePayslipPage(pdf *fpdf.Fpdf, snap Snapshot, company Company, it domain.ItemView) {
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, company.Name)
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, fmt.Sprintf("Payslip for period %s to %s", snap.Period.StartDate, snap.Period.EndDate))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, it.EmployeeName)
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Employee %s", it.EmployeeCode))
	pdf.Ln(10)

	amountRow(pdf, "Ordinary hours", it.Hours.String())
	amountRow(pdf, "Hourly rate", money(it.Rate))
	if !it.OT15Hours.IsZero() {
		amountRow(pdf, "Overtime 1.5x hours", it.OT15Hours.String())
	}
	if !it.OT20Hours.IsZero() {
		amountRow(pdf, "Overtime 2x hours", it.OT20Hours.String())
	}
	if !it.Allowance.IsZero() {
		amountRow(pdf, "Allowance", money(it.Allowance))
	}
	pdf.Ln(2)
	amountRow(pdf, "Gross pay", money(it.Gross))
	amountRow(pdf, "Tax", money(it.Tax.Neg()))
	amountRow(pdf, "Superannuation", money(it.Super.Neg()))
	if !it.DeductionsTotal.IsZero() {
		amountRow(pdf, "Deductions", money(it.DeductionsTotal.Neg()))
	}
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "B", 11)
	amountRow(pdf, "Net pay", money(it.Net))

	if it.Note != nil && *it.Note != "" {
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(0, 5, "Note: "+*it.Note, "", "L", false)
	}
}

func amountRow(pdf *fpdf.Fpdf, label, value string) {
	pdf.CellFormat(90, 7, label, "", 0, "L", false, 0, "")
	pdf.CellFormat(40, 7, value, "", 1, "R", false, 0, "")
}

func money(v decimal.Decimal) string {
	return v.StringFixed(2)
}
