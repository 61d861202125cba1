package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/images"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/pipeline"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/testutil"
)

func sampleDocument(t *testing.T) Document {
	t.Helper()
	data := testutil.Sample{
		TOT:          "FAUF",
		Positions:    []int{1, 2, 13, 14, 15, 11},
		Demographics: testutil.DefaultDemographics(),
		Payload: func(pos int) []byte {
			if pos == 2 {
				return testutil.WSQ(8, 8)
			}
			return testutil.JPEG(8, 8)
		},
	}.Build()
	res, err := pipeline.Process(context.Background(), data, pipeline.Options{Codec: images.StdCodec{}})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	return FromResult("card.eft", res)
}

func TestFromResult(t *testing.T) {
	doc := sampleDocument(t)
	if doc.Filename != "card.eft" || doc.SHA256 == "" {
		t.Fatalf("unexpected header: %+v", doc)
	}
	if len(doc.Images) != 6 {
		t.Fatalf("images = %d, want 6", len(doc.Images))
	}
	if doc.Images[1].Format != "WSQ" || doc.Images[1].Error == "" {
		t.Fatalf("WSQ image should carry a decode error: %+v", doc.Images[1])
	}
	if doc.Images[0].Error != "" {
		t.Fatalf("JPEG image failed: %s", doc.Images[0].Error)
	}
	if !doc.Validation.IsValid || len(doc.Validation.Warnings) != 1 {
		t.Fatalf("validation = %+v", doc.Validation)
	}
}

func TestSaveLoadJSON(t *testing.T) {
	doc := sampleDocument(t)
	out := filepath.Join(t.TempDir(), "report.json")
	if err := SaveJSON(doc, out); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}
	back, err := LoadJSON(out)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if back.SHA256 != doc.SHA256 || back.Validation.IsValid != doc.Validation.IsValid {
		t.Fatalf("round trip mismatch: %+v", back)
	}
	if back.Metadata.Demographics != doc.Metadata.Demographics {
		t.Fatalf("demographics = %+v", back.Metadata.Demographics)
	}
	if len(back.Validation.Messages) != 3 {
		t.Fatalf("messages = %v", back.Validation.Messages)
	}
}

func TestSavePDF(t *testing.T) {
	doc := sampleDocument(t)
	out := filepath.Join(t.TempDir(), "report.pdf")
	if err := SavePDF(doc, out); err != nil {
		t.Fatalf("SavePDF: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.HasPrefix(b, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF")
	}
}

func TestWritePDFIncompleteReport(t *testing.T) {
	doc := sampleDocument(t)
	doc.Validation.IsValid = false
	doc.Images = nil
	var buf bytes.Buffer
	if err := WritePDF(&buf, doc); err != nil {
		t.Fatalf("WritePDF: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("empty PDF")
	}
}

func TestDigestToQR(t *testing.T) {
	png, err := DigestToQR("AB:CD:ef 01", 64)
	if err != nil {
		t.Fatalf("DigestToQR: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("not a PNG")
	}
	if _, err := DigestToQR("zz", 64); err == nil {
		t.Fatalf("expected error for empty digest")
	}
}
