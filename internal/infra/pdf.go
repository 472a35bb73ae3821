package infra

// pdf.go: daily receiving report rendered with go-pdf/fpdf.
// One A4 landscape page set per day:
//   - Title with the report date
//   - One row per receiving record (supplier, key, tag, delivery, lead time, state, scan progress)
//   - Totals line
//
// The output file is saved to storagePath/receiving_{YYYY-MM-DD}.pdf.

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/LougLynx/RIG-SYSTEM/internal/model"
)

// GenerateReceivingReportPDF writes the receiving report for day and returns its path.
func GenerateReceivingReportPDF(day time.Time, records []model.ReceivingRecord, storagePath string) (string, error) {
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return "", fmt.Errorf("pdf: create storage dir: %w", err)
	}

	filePath := filepath.Join(storagePath, fmt.Sprintf("receiving_%s.pdf", day.Format("2006-01-02")))

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 20

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(contentW, 8, "Receiving report", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(contentW, 5, day.Format("Monday, 02 Jan 2006"), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	cols := []struct {
		title string
		width float64
		align string
	}{
		{"Supplier", 0.22, "L"},
		{"Key", 0.16, "L"},
		{"Tag", 0.08, "L"},
		{"Delivered", 0.10, "C"},
		{"Lead time", 0.10, "R"},
		{"Completed", 0.08, "C"},
		{"Stored", 0.08, "C"},
		{"Lines", 0.06, "R"},
		{"Scanned", 0.12, "R"},
	}

	pdf.SetFont("Helvetica", "B", 8)
	for i, c := range cols {
		ln := 0
		if i == len(cols)-1 {
			ln = 1
		}
		pdf.CellFormat(contentW*c.width, 6, c.title, "B", ln, c.align, false, 0, "")
	}

	pdf.SetFont("Helvetica", "", 8)
	var completed, stored int
	for i := range records {
		r := &records[i]
		if r.IsCompleted {
			completed++
		}
		if r.IsStored {
			stored++
		}
		qty, scanned := 0, 0
		for _, d := range r.Details {
			qty += d.Quantity
			scanned += d.QuantityScan
		}
		lead := "-"
		if r.ActualLeadTime != nil {
			lead = r.ActualLeadTime.Truncate(time.Minute).String()
		}
		row := []string{
			truncate(r.SupplierName(), 36),
			r.Triple().Identity().Value,
			r.TagName,
			r.ActualDeliveryTime.Format("15:04"),
			lead,
			yesNo(r.IsCompleted),
			yesNo(r.IsStored),
			fmt.Sprintf("%d", len(r.Details)),
			fmt.Sprintf("%d / %d", scanned, qty),
		}
		for j, c := range cols {
			ln := 0
			if j == len(cols)-1 {
				ln = 1
			}
			pdf.CellFormat(contentW*c.width, 5, row[j], "", ln, c.align, false, 0, "")
		}
	}

	pdf.Ln(2)
	pdf.Line(10, pdf.GetY(), pageW-10, pdf.GetY())
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(contentW, 6,
		fmt.Sprintf("%d shipments received, %d completed, %d stored", len(records), completed, stored),
		"", 1, "L", false, 0, "")

	if err := pdf.OutputFileAndClose(filePath); err != nil {
		return "", fmt.Errorf("pdf: write file: %w", err)
	}
	return filePath, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "..."
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
