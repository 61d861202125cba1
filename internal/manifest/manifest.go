// Package manifest records the SHA-256 digests of batch inputs and outputs.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/common"
)

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
	// Valid is set for transaction inputs that were validated.
	Valid *bool `json:"valid,omitempty"`
}

type Manifest struct {
	CreatedAt time.Time `json:"createdAt"`
	ShaAlgo   string    `json:"shaAlgo"`
	Items     []Item    `json:"items"`
}

// Build hashes every path. Items are ordered by path.
func Build(paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256"}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	for _, p := range sorted {
		hex, sz, err := common.Sha256OfFile(p)
		if err != nil {
			return m, err
		}
		m.Items = append(m.Items, Item{Path: p, Size: sz, Sha256: hex, Type: FileType(p)})
	}
	return m, nil
}

// FileType classifies a path by extension.
func FileType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".eft", ".ebts", ".an2", ".an2k", ".nist":
		return "transaction"
	case ".json":
		return "json"
	case ".pdf":
		return "pdf"
	case ".png", ".jpg", ".jp2", ".wsq":
		return "image"
	}
	return "other"
}

// IsTransaction reports whether path looks like an ANSI/NIST-ITL file.
func IsTransaction(path string) bool {
	return FileType(path) == "transaction"
}

// MarkValidity records the validation outcome for the item at path.
func (m *Manifest) MarkValidity(path string, valid bool) {
	for i := range m.Items {
		if m.Items[i].Path == path {
			v := valid
			m.Items[i].Valid = &v
			return
		}
	}
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}
