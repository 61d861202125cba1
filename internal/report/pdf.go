package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/metadata"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/rules"
)

const qrImageName = "digest-qr"

// The core PDF fonts are cp1252 only.
var symbolReplacer = strings.NewReplacer("✓", "[OK]", "✗", "[X]", "⚠", "[!]")

// SavePDF renders the report document into a PDF file.
func SavePDF(doc Document, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := WritePDF(f, doc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WritePDF renders the report document to w.
func WritePDF(w io.Writer, doc Document) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("EFT Validation Report", false)
	pdf.SetAuthor("eftgate", false)
	pdf.SetCreator("eftgate", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	text := func(s string) string { return tr(symbolReplacer.Replace(s)) }

	addPDFTitle(pdf, "EFT Validation Report")
	addDigestQR(pdf, doc.SHA256)
	addSummarySection(pdf, doc, text)
	addTransactionSection(pdf, doc.Metadata.Transaction, text)
	addDemographicsSection(pdf, doc.Metadata.Demographics, doc.Validation, text)
	addFingerprintSection(pdf, doc.Validation, text)
	addImageSection(pdf, doc.Images, text)
	addMessagesSection(pdf, doc.Validation, text)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.Output(w)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addDigestQR(pdf *gofpdf.Fpdf, digest string) {
	png, err := DigestToQR(digest, 256)
	if err != nil {
		return
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(png))
	pageW, _ := pdf.GetPageSize()
	_, _, right, _ := pdf.GetMargins()
	pdf.ImageOptions(qrImageName, pageW-right-30, 15, 30, 30, false, opts, 0, "")
}

func addSectionHeading(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, title)
	pdf.Ln(9)
}

func addKeyValues(pdf *gofpdf.Fpdf, items [][2]string, text func(string) string) {
	pdf.SetFont("Helvetica", "", 11)
	for _, item := range items {
		pdf.CellFormat(50, 6, text(item[0]), "", 0, "L", false, 0, "")
		pdf.MultiCell(90, 6, text(emptyFallback(item[1], "-")), "", "L", false)
	}
	pdf.Ln(4)
}

func addSummarySection(pdf *gofpdf.Fpdf, doc Document, text func(string) string) {
	addSectionHeading(pdf, "Summary")
	generated := "-"
	if !doc.GeneratedAt.IsZero() {
		generated = doc.GeneratedAt.Format(time.RFC3339)
	}
	addKeyValues(pdf, [][2]string{
		{"File", doc.Filename},
		{"SHA-256", doc.SHA256},
		{"Size", strconv.Itoa(doc.Size) + " bytes"},
		{"Generated", generated},
		{"Transaction Type", doc.Validation.TransactionType},
		{"Policy", doc.Validation.Policy},
		{"Match", derefOr(doc.Validation.MatchType, "-")},
		{"Overall", passLabel(doc.Validation.IsValid)},
	}, text)
}

func addTransactionSection(pdf *gofpdf.Fpdf, tx metadata.Transaction, text func(string) string) {
	addSectionHeading(pdf, "Transaction")
	addKeyValues(pdf, [][2]string{
		{"Type", tx.Type},
		{"Date", tx.Date},
		{"Destination Agency", tx.DestAgency},
		{"Originating Agency", tx.OrigAgency},
		{"TCN", tx.TCN},
	}, text)
}

func addDemographicsSection(pdf *gofpdf.Fpdf, demo metadata.Demographics, rep rules.Report, text func(string) string) {
	addSectionHeading(pdf, "Demographics")
	widths := []float64{40, 100, 30}
	renderHeaderRow(pdf, []string{"Field", "Value", "Status"}, widths)
	missing := make(map[string]bool, len(rep.DemographicsMissing))
	for _, f := range rep.DemographicsMissing {
		missing[f] = true
	}
	required := make(map[string]bool)
	for _, f := range rep.DemographicsPresent {
		required[f] = true
	}
	for f := range missing {
		required[f] = true
	}
	pdf.SetFont("Helvetica", "", 9)
	for _, name := range metadata.DemographicFields {
		v, _ := demo.Get(name)
		status := "optional"
		switch {
		case missing[name]:
			status = "MISSING"
		case required[name]:
			status = "required"
		}
		if v == "" && !required[name] {
			continue
		}
		renderTableRow(pdf, widths, []string{name, text(v), status}, 5)
	}
	pdf.Ln(4)
}

func addFingerprintSection(pdf *gofpdf.Fpdf, rep rules.Report, text func(string) string) {
	addSectionHeading(pdf, "Fingerprints")
	widths := []float64{25, 80, 30}
	renderHeaderRow(pdf, []string{"Position", "Name", "Status"}, widths)
	pdf.SetFont("Helvetica", "", 9)
	for _, fp := range rep.FingerprintsPresent {
		renderTableRow(pdf, widths, []string{strconv.Itoa(fp.Position), text(fp.Name), "present"}, 5)
	}
	for _, fp := range rep.FingerprintsMissing {
		renderTableRow(pdf, widths, []string{strconv.Itoa(fp.Position), text(fp.Name), "MISSING"}, 5)
	}
	pdf.Ln(4)
}

func addImageSection(pdf *gofpdf.Fpdf, imgs []ImageSummary, text func(string) string) {
	addSectionHeading(pdf, "Images")
	if len(imgs) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No embedded images found.", "", "L", false)
		pdf.Ln(4)
		return
	}
	widths := []float64{30, 20, 25, 20, 25, 60}
	renderHeaderRow(pdf, []string{"Name", "Tag", "Format", "Position", "Bytes", "Decode"}, widths)
	pdf.SetFont("Helvetica", "", 9)
	for _, img := range imgs {
		pos := "-"
		if img.Position >= 0 {
			pos = strconv.Itoa(img.Position)
		}
		status := "ok"
		if img.Error != "" {
			status = img.Error
		}
		renderTableRow(pdf, widths, []string{img.Name, img.Tag, img.Format, pos, strconv.Itoa(img.Bytes), text(status)}, 5)
	}
	pdf.Ln(4)
}

func addMessagesSection(pdf *gofpdf.Fpdf, rep rules.Report, text func(string) string) {
	addSectionHeading(pdf, "Messages")
	pdf.SetFont("Helvetica", "", 10)
	for _, m := range rep.Messages {
		pdf.MultiCell(0, 5, text(m), "", "L", false)
	}
	if len(rep.Warnings) > 0 {
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "B", 10)
		pdf.MultiCell(0, 5, fmt.Sprintf("Warnings (%d)", len(rep.Warnings)), "", "L", false)
		pdf.SetFont("Helvetica", "", 10)
		for _, w := range rep.Warnings {
			pdf.MultiCell(0, 5, text(w), "", "L", false)
		}
	}
}

func renderHeaderRow(pdf *gofpdf.Fpdf, headers []string, widths []float64) {
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func passLabel(pass bool) string {
	if pass {
		return "VALID"
	}
	return "INCOMPLETE"
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
