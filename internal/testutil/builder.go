// Package testutil assembles synthetic ANSI/NIST-ITL transactions for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
)

const (
	fs = 0x1C
	gs = 0x1D
	rs = 0x1E
	us = 0x1F
)

// Field is one tagged field to be written. Number excludes the record type.
type Field struct {
	Number int
	Value  []byte
}

// F builds a textual field.
func F(number int, value string) Field {
	return Field{Number: number, Value: []byte(value)}
}

// Raw builds a field from raw bytes, typically 999 image data.
func Raw(number int, value []byte) Field {
	return Field{Number: number, Value: value}
}

// Sub joins subfields with RS.
func Sub(parts ...string) string {
	return joinWith(rs, parts)
}

// Items joins information items with US.
func Items(parts ...string) string {
	return joinWith(us, parts)
}

func joinWith(sep byte, parts []string) string {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(sep)
		}
		b.WriteString(p)
	}
	return b.String()
}

// BinaryImage describes a fixed-header image record (types 3 to 8).
type BinaryImage struct {
	IDC       byte
	IMP       byte
	Positions []int
	ISR       byte
	Width     uint16
	Height    uint16
	GCA       byte
	Data      []byte
}

type pending struct {
	typ    int
	idc    int
	fields []Field
	image  *BinaryImage
}

// Builder accumulates records and writes them with a generated Type-1 CNT.
type Builder struct {
	type1   []Field
	records []pending
	noCNT   bool
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Type1 adds fields to the Type-1 record. 1.001 and 1.003 are generated.
func (b *Builder) Type1(fields ...Field) *Builder {
	b.type1 = append(b.type1, fields...)
	return b
}

// WithoutCNT omits 1.003 so readers must infer record types from tags.
func (b *Builder) WithoutCNT() *Builder {
	b.noCNT = true
	return b
}

// Tagged appends a tagged record. T.001 is generated and T.002 defaults to idc.
func (b *Builder) Tagged(typ, idc int, fields ...Field) *Builder {
	b.records = append(b.records, pending{typ: typ, idc: idc, fields: fields})
	return b
}

// Binary appends a fixed-header binary record of type typ.
func (b *Builder) Binary(typ int, img BinaryImage) *Builder {
	b.records = append(b.records, pending{typ: typ, idc: int(img.IDC), image: &img})
	return b
}

// Bytes encodes the transaction.
func (b *Builder) Bytes() []byte {
	var out bytes.Buffer
	type1 := append([]Field(nil), b.type1...)
	if !b.noCNT {
		cnt := []string{Items("1", strconv.Itoa(len(b.records)))}
		for _, r := range b.records {
			cnt = append(cnt, Items(strconv.Itoa(r.typ), fmt.Sprintf("%02d", r.idc)))
		}
		type1 = append(type1, F(3, Sub(cnt...)))
	}
	out.Write(TaggedRecord(1, type1))
	for _, r := range b.records {
		if r.image != nil {
			out.Write(BinaryRecord(r.typ, *r.image))
			continue
		}
		fields := r.fields
		if !hasField(fields, 2) {
			fields = append([]Field{F(2, fmt.Sprintf("%02d", r.idc))}, fields...)
		}
		out.Write(TaggedRecord(r.typ, fields))
	}
	return out.Bytes()
}

func hasField(fields []Field, number int) bool {
	for _, f := range fields {
		if f.Number == number {
			return true
		}
	}
	return false
}

// TaggedRecord encodes one tagged record with a computed T.001 length. Fields
// are written in ascending field number order.
func TaggedRecord(typ int, fields []Field) []byte {
	sorted := append([]Field(nil), fields...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	var rest bytes.Buffer
	for _, f := range sorted {
		if f.Number == 1 {
			continue
		}
		rest.WriteByte(gs)
		fmt.Fprintf(&rest, "%d.%03d:", typ, f.Number)
		rest.Write(f.Value)
	}
	rest.WriteByte(fs)

	prefix := fmt.Sprintf("%d.001:", typ)
	length := len(prefix) + 1 + rest.Len()
	for {
		next := len(prefix) + len(strconv.Itoa(length)) + rest.Len()
		if next == length {
			break
		}
		length = next
	}
	var out bytes.Buffer
	out.WriteString(prefix)
	out.WriteString(strconv.Itoa(length))
	out.Write(rest.Bytes())
	return out.Bytes()
}

// BinaryRecord encodes a fixed-header binary record.
func BinaryRecord(typ int, img BinaryImage) []byte {
	var hdr bytes.Buffer
	switch typ {
	case 7:
		hdr.WriteByte(img.IDC)
	case 8:
		hdr.WriteByte(img.IDC)
		hdr.WriteByte(img.IMP) // SIG
		hdr.WriteByte(img.GCA) // SRT
		hdr.WriteByte(img.ISR)
		writeUint16(&hdr, img.Width)
		writeUint16(&hdr, img.Height)
	default:
		hdr.WriteByte(img.IDC)
		hdr.WriteByte(img.IMP)
		fgp := []byte{255, 255, 255, 255, 255, 255}
		for i, p := range img.Positions {
			if i < len(fgp) {
				fgp[i] = byte(p)
			}
		}
		hdr.Write(fgp)
		hdr.WriteByte(img.ISR)
		writeUint16(&hdr, img.Width)
		writeUint16(&hdr, img.Height)
		hdr.WriteByte(img.GCA)
	}
	total := 4 + hdr.Len() + len(img.Data)
	out := make([]byte, 4, total)
	binary.BigEndian.PutUint32(out, uint32(total))
	out = append(out, hdr.Bytes()...)
	return append(out, img.Data...)
}

func writeUint16(b *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.Write(tmp[:])
}
