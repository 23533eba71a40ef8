package formats

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
)

const (
	pdfFontFamily = "Helvetica"
	pdfFontSize   = 8
	pdfRowHeight  = 5.0
	pdfMargin     = 10.0
)

// EncodePDF renders each table as a grid on landscape A4 pages. Every table starts on a new page
// and the header row repeats after page breaks. Cells that do not fit are truncated.
func EncodePDF(title string, tables []*models.Table) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageWidth, pageHeight := pdf.GetPageSize()
	usable := pageWidth - 2*pdfMargin

	if len(tables) == 0 {
		pdf.AddPage()
		pdf.SetFont(pdfFontFamily, "B", 12)
		pdf.CellFormat(usable, 8, tr(title), "", 1, "L", false, 0, "")
	}

	for _, table := range tables {
		pdf.AddPage()
		pdf.SetFont(pdfFontFamily, "B", 12)
		pdf.CellFormat(usable, 8, tr(tableTitle(title, table)), "", 1, "L", false, 0, "")

		if len(table.Columns) == 0 {
			continue
		}
		colWidth := usable / float64(len(table.Columns))

		header := func() {
			pdf.SetFont(pdfFontFamily, "B", pdfFontSize)
			pdf.SetFillColor(230, 230, 230)
			for _, c := range table.Columns {
				pdf.CellFormat(colWidth, pdfRowHeight, fit(pdf, tr(c.Name), colWidth), "1", 0, "L", true, 0, "")
			}
			pdf.Ln(-1)
			pdf.SetFont(pdfFontFamily, "", pdfFontSize)
		}
		header()

		for _, row := range table.Rows {
			if pdf.GetY()+pdfRowHeight > pageHeight-pdfMargin {
				pdf.AddPage()
				header()
			}
			for i := range table.Columns {
				var v any
				if i < len(row) {
					v = row[i]
				}
				pdf.CellFormat(colWidth, pdfRowHeight, fit(pdf, tr(cellText(v)), colWidth), "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func tableTitle(title string, table *models.Table) string {
	if table.Name == "" {
		return title
	}
	return title + " - " + table.Name
}

// fit truncates s with an ellipsis so it fits in a cell of width w.
func fit(pdf *fpdf.Fpdf, s string, w float64) string {
	limit := w - 2*pdf.GetCellMargin()
	if pdf.GetStringWidth(s) <= limit {
		return s
	}
	const ellipsis = "..."
	for len(s) > 0 && pdf.GetStringWidth(s+ellipsis) > limit {
		s = s[:len(s)-1]
	}
	return s + ellipsis
}
