package handlers

import (
	"bytes"
	"fmt"
	"log"
	"net/http"

	"leavedesk/i18n"
	"leavedesk/models"

	"github.com/jung-kurt/gofpdf"
)

// ExportHandler sends the caller's leave history (employees) or their
// team's requests (managers) as a PDF.
func (a *App) ExportHandler(w http.ResponseWriter, r *http.Request) {
	s, role, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	lang := i18n.DetectLanguage(r)

	var (
		leaves []models.LeaveRequest
		err    error
		title  string
	)
	switch role {
	case models.RoleEmployee:
		leaves, err = a.Ledger.History(r.Context(), s.Username)
		title = i18n.T(lang, "LeaveHistory")
	case models.RoleManager:
		leaves, err = a.Ledger.Queue(r.Context(), s.Username)
		title = i18n.T(lang, "LeaveRequests")
	default:
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if err != nil {
		log.Printf("Error loading leaves for export (%q): %v", s.Username, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := renderLeavePDF(&buf, lang, title, s.Username, leaves); err != nil {
		log.Printf("Error rendering PDF for %q: %v", s.Username, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "leaves-"+s.Username+".pdf"))
	w.Write(buf.Bytes())
}

func renderLeavePDF(buf *bytes.Buffer, lang, title, username string, leaves []models.LeaveRequest) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, tr(title))
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 8, tr(fmt.Sprintf("%s: %s", i18n.T(lang, "Username"), username)))
	pdf.Ln(10)

	if len(leaves) == 0 {
		pdf.Cell(0, 8, tr(i18n.T(lang, "NoLeaveRecords")))
		return pdf.Output(buf)
	}

	widths := []float64{15, 30, 25, 30, 60, 25}
	headers := []string{"#", "Username", "Date", "LeaveType", "Comment", "Status"}
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		label := h
		if h != "#" {
			label = i18n.T(lang, h)
		}
		pdf.CellFormat(widths[i], 8, tr(label), "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, l := range leaves {
		row := []string{
			fmt.Sprintf("%d", l.ID),
			l.Username,
			l.DateString(),
			i18n.T(lang, string(l.Type)),
			l.Comment,
			i18n.T(lang, string(l.Status)),
		}
		for i, v := range row {
			pdf.CellFormat(widths[i], 7, tr(v), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return pdf.Output(buf)
}
