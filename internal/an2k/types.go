package an2k

import (
	"bytes"
	"fmt"
	"strconv"
)

// Separator hierarchy of the ANSI/NIST-ITL container.
const (
	FS byte = 0x1C // record
	GS byte = 0x1D // field
	RS byte = 0x1E // subfield
	US byte = 0x1F // item
)

// ImageDataField is the field number that carries binary image data in
// tagged records.
const ImageDataField = "999"

// Field is one tagged datum decoded from a transaction file. Value aliases
// the decoded buffer and must not be modified.
type Field struct {
	RecordType  int
	FieldNumber string
	// Indices holds the 1-based record position in the file followed by the
	// 1-based field position in the record.
	Indices []int
	Offset  int64
	Value   []byte
	// Binary is set when Value was read by length rather than up to a
	// separator.
	Binary bool
}

// FieldRef identifies a decoded field without carrying its value.
type FieldRef struct {
	RecordType  int    `json:"recordType"`
	FieldNumber string `json:"fieldNumber"`
	Record      int    `json:"record"`
	Field       int    `json:"field"`
}

func (r FieldRef) Tag() string {
	return fmt.Sprintf("%d.%s", r.RecordType, r.FieldNumber)
}

func (f Field) Tag() string {
	return fmt.Sprintf("%d.%s", f.RecordType, f.FieldNumber)
}

// Record returns the 1-based record position of the field.
func (f Field) Record() int {
	if len(f.Indices) == 0 {
		return 0
	}
	return f.Indices[0]
}

func (f Field) Ref() FieldRef {
	ref := FieldRef{RecordType: f.RecordType, FieldNumber: f.FieldNumber}
	if len(f.Indices) > 0 {
		ref.Record = f.Indices[0]
	}
	if len(f.Indices) > 1 {
		ref.Field = f.Indices[1]
	}
	return ref
}

// IndexString renders Indices dot separated, e.g. "3.2".
func (f Field) IndexString() string {
	var b bytes.Buffer
	for i, idx := range f.Indices {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(idx))
	}
	return b.String()
}

func (f Field) Text() string {
	return string(f.Value)
}

// Display renders the value for listings. Binary values are summarised and
// text longer than limit runes is cut; a limit <= 0 disables the cut.
func (f Field) Display(limit int) string {
	if f.Binary {
		return fmt.Sprintf("<%d bytes>", len(f.Value))
	}
	s := string(bytes.TrimSpace(f.Value))
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit])
	}
	return s
}

// Subfields splits a textual value on RS. Binary values are returned whole.
func (f Field) Subfields() [][]byte {
	if f.Binary {
		return [][]byte{f.Value}
	}
	return bytes.Split(f.Value, []byte{RS})
}

// Items splits every subfield on US.
func (f Field) Items() [][][]byte {
	subs := f.Subfields()
	out := make([][][]byte, len(subs))
	for i, sub := range subs {
		if f.Binary {
			out[i] = [][]byte{sub}
			continue
		}
		out[i] = bytes.Split(sub, []byte{US})
	}
	return out
}

// Record is one logical record of a transaction.
type Record struct {
	Type   int
	Index  int
	Offset int64
	Length int
	Fields []Field
}

// Field returns the first field with the given number.
func (r Record) Field(number string) (Field, bool) {
	for _, f := range r.Fields {
		if f.FieldNumber == number {
			return f, true
		}
	}
	return Field{}, false
}

// Flatten returns the fields of records in file order.
func Flatten(records []Record) []Field {
	var n int
	for _, r := range records {
		n += len(r.Fields)
	}
	out := make([]Field, 0, n)
	for _, r := range records {
		out = append(out, r.Fields...)
	}
	return out
}

// binaryLayouts lists the fixed-header binary record types. Each element is
// the byte width of one header field after the 4-byte length; the data block
// follows the last element.
var binaryLayouts = map[int][]int{
	3: {1, 1, 6, 1, 2, 2, 1},
	4: {1, 1, 6, 1, 2, 2, 1},
	5: {1, 1, 6, 1, 2, 2, 1},
	6: {1, 1, 6, 1, 2, 2, 1},
	7: {1},
	8: {1, 1, 1, 1, 2, 2},
}

// IsBinaryType reports whether records of type t use a binary length header
// instead of tagged ASCII fields.
func IsBinaryType(t int) bool {
	_, ok := binaryLayouts[t]
	return ok
}
