package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/common"
)

func TestBuildAndSave(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"b.eft":       []byte("second"),
		"a.EBTS":      []byte("first"),
		"report.json": []byte("{}"),
		"notes.txt":   []byte("x"),
	}
	var paths []string
	for name, body := range files {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, body, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		paths = append(paths, p)
	}

	m, err := Build(paths)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(m.Items) != 4 {
		t.Fatalf("items = %d", len(m.Items))
	}
	first := m.Items[0]
	if filepath.Base(first.Path) != "a.EBTS" || first.Type != "transaction" {
		t.Fatalf("first item = %+v", first)
	}
	if first.Sha256 != common.Sha256Hex([]byte("first")) || first.Size != 5 {
		t.Fatalf("digest = %s size %d", first.Sha256, first.Size)
	}

	m.MarkValidity(first.Path, true)
	out := filepath.Join(dir, "manifest.json")
	if err := Save(m, out); err != nil {
		t.Fatalf("Save: %v", err)
	}
	back, err := Load(out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if back.Items[0].Valid == nil || !*back.Items[0].Valid {
		t.Fatalf("validity not persisted: %+v", back.Items[0])
	}
	if back.Items[1].Valid != nil {
		t.Fatalf("unexpected validity on %s", back.Items[1].Path)
	}
}

func TestBuildMissingFile(t *testing.T) {
	if _, err := Build([]string{filepath.Join(t.TempDir(), "gone.eft")}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFileType(t *testing.T) {
	tests := map[string]string{
		"x.eft":  "transaction",
		"x.AN2":  "transaction",
		"x.pdf":  "pdf",
		"x.wsq":  "image",
		"x":      "other",
		"x.json": "json",
	}
	for in, want := range tests {
		if got := FileType(in); got != want {
			t.Fatalf("FileType(%q) = %q, want %q", in, got, want)
		}
	}
}
