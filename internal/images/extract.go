// Package images classifies embedded image payloads and decodes them through
// a pluggable codec.
package images

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/an2k"
)

// Format is the detected compression of an image payload.
type Format string

const (
	JPEG2000 Format = "JPEG2000"
	WSQ      Format = "WSQ"
	JPEG     Format = "JPEG"
	Unknown  Format = "UNKNOWN"
)

var (
	jp2Box       = []byte{0x00, 0x00, 0x00, 0x0C, 0x6A, 0x50, 0x20, 0x20, 0x0D, 0x0A, 0x87, 0x0A}
	j2kStream    = []byte{0xFF, 0x4F, 0xFF, 0x51}
	wsqMagic     = []byte{0xFF, 0xA0}
	jpegMagic    = []byte{0xFF, 0xD8, 0xFF}
	formatLabels = map[Format]string{
		JPEG2000: "JPEG 2000",
		WSQ:      "WSQ",
		JPEG:     "JPEG",
		Unknown:  "Unknown",
	}
	formatExts = map[Format]string{
		JPEG2000: ".jp2",
		WSQ:      ".wsq",
		JPEG:     ".jpg",
		Unknown:  ".bin",
	}
)

// Classify detects the image format from the leading signature bytes.
func Classify(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, jp2Box), bytes.HasPrefix(data, j2kStream):
		return JPEG2000
	case bytes.HasPrefix(data, wsqMagic):
		return WSQ
	case bytes.HasPrefix(data, jpegMagic):
		return JPEG
	}
	return Unknown
}

// Label is the human readable format name.
func (f Format) Label() string {
	if l, ok := formatLabels[f]; ok {
		return l
	}
	return string(f)
}

// Ext is the conventional file extension of the raw payload.
func (f Format) Ext() string {
	if e, ok := formatExts[f]; ok {
		return e
	}
	return ".bin"
}

// ImageField is a classified image payload. Data is a private copy.
type ImageField struct {
	Ref    an2k.FieldRef
	Format Format
	Data   []byte
	// Position is the finger position reported by the same record, or -1.
	Position int
}

// Name identifies the image by record and field index, e.g. "fld_3_12".
func (f ImageField) Name() string {
	return fmt.Sprintf("fld_%d_%d", f.Ref.Record, f.Ref.Field)
}

// Extract returns every field whose payload carries a recognised image
// signature, in file order. Fields with other content are skipped.
func Extract(fields []an2k.Field) []ImageField {
	positions := recordPositions(fields)
	var out []ImageField
	for _, f := range fields {
		format := Classify(f.Value)
		if format == Unknown {
			continue
		}
		pos, ok := positions[f.Record()]
		if !ok {
			pos = -1
		}
		out = append(out, ImageField{
			Ref:      f.Ref(),
			Format:   format,
			Data:     append([]byte(nil), f.Value...),
			Position: pos,
		})
	}
	return out
}

// recordPositions maps record index to the first finger position declared by
// the record (14.013 or the binary 4.004).
func recordPositions(fields []an2k.Field) map[int]int {
	out := make(map[int]int)
	for _, f := range fields {
		if f.Binary {
			continue
		}
		isFGP := (f.RecordType == 14 && f.FieldNumber == "013") ||
			(an2k.IsBinaryType(f.RecordType) && f.RecordType <= 6 && f.FieldNumber == "004")
		if !isFGP {
			continue
		}
		if _, seen := out[f.Record()]; seen {
			continue
		}
		subs := f.Subfields()
		if len(subs) == 0 {
			continue
		}
		if pos, err := strconv.Atoi(string(bytes.TrimSpace(subs[0]))); err == nil {
			out[f.Record()] = pos
		}
	}
	return out
}
