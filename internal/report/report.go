// Package report renders validation results as JSON and PDF documents.
package report

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/metadata"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/pipeline"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/rules"
)

// Document is the persisted validation report of one transaction file.
type Document struct {
	Filename    string            `json:"filename"`
	SHA256      string            `json:"sha256"`
	Size        int               `json:"size"`
	GeneratedAt time.Time         `json:"generated_at"`
	Metadata    metadata.Metadata `json:"metadata"`
	Validation  rules.Report      `json:"validation"`
	Images      []ImageSummary    `json:"images"`
}

// ImageSummary describes one embedded image without its pixels.
type ImageSummary struct {
	Name     string `json:"name"`
	Tag      string `json:"tag"`
	Format   string `json:"format"`
	Position int    `json:"position"`
	Bytes    int    `json:"bytes"`
	Error    string `json:"error,omitempty"`
}

// FromResult builds a report document from a pipeline result.
func FromResult(filename string, res *pipeline.Result) Document {
	doc := Document{
		Filename:    filename,
		SHA256:      res.SHA256,
		Size:        res.Size,
		GeneratedAt: time.Now().UTC(),
		Metadata:    res.Metadata,
		Validation:  res.Validation,
		Images:      make([]ImageSummary, 0, len(res.Images)),
	}
	for i, img := range res.Images {
		s := ImageSummary{
			Name:     img.Name(),
			Tag:      img.Ref.Tag(),
			Format:   img.Format.Label(),
			Position: img.Position,
			Bytes:    len(img.Data),
		}
		if i < len(res.Decoded) && res.Decoded[i].Err != nil {
			s.Error = res.Decoded[i].Err.Error()
		}
		doc.Images = append(doc.Images, s)
	}
	return doc
}

func WriteJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func SaveJSON(doc Document, out string) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (Document, error) {
	var doc Document
	b, err := os.ReadFile(path)
	if err != nil {
		return doc, err
	}
	err = json.Unmarshal(b, &doc)
	return doc, err
}
