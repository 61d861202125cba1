package an2k

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/common"
)

const (
	maxTagDigits  = 8
	binaryLenSize = 4
	separators    = "\x1c\x1d\x1e\x1f"
	unusedFGP     = 255
)

// Decoder walks a transaction buffer one logical record at a time. The
// record types that follow the Type-1 record are taken from its CNT field
// (1.003); without a usable CNT every record must carry a tag prefix.
type Decoder struct {
	data    []byte
	offset  int64
	index   int
	plan    []int
	planSet bool
	metrics *common.Metrics
}

// NewDecoder prepares a decoder over data. The buffer is not copied.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// SetMetrics attaches a throughput recorder to the decoder.
func (d *Decoder) SetMetrics(m *common.Metrics) {
	d.metrics = m
}

// Offset returns the byte offset of the next record.
func (d *Decoder) Offset() int64 {
	return d.offset
}

// Next decodes the next logical record. It returns io.EOF once every record
// announced by the Type-1 record has been read.
func (d *Decoder) Next() (Record, error) {
	size := int64(len(d.data))
	if d.index == 0 {
		if size == 0 {
			return Record{}, formatErr(0, ErrTruncated, "empty input")
		}
		rec, err := d.readTagged(1)
		if err != nil {
			return Record{}, err
		}
		d.plan, d.planSet = parseContents(rec)
		if !d.planSet {
			common.Warnf("type-1 record has no usable CNT field; inferring record types from tags")
		}
		return d.emit(rec), nil
	}
	if d.offset >= size {
		if d.planSet && d.index-1 < len(d.plan) {
			return Record{}, formatErr(d.offset, ErrTruncated, "CNT lists %d records after type 1, found %d", len(d.plan), d.index-1)
		}
		return Record{}, io.EOF
	}

	var typ int
	if d.planSet {
		if d.index-1 >= len(d.plan) {
			common.Warnf("ignoring %d trailing bytes at offset %d", size-d.offset, d.offset)
			d.offset = size
			return Record{}, io.EOF
		}
		typ = d.plan[d.index-1]
	} else {
		t, _, _, ok := peekTag(d.data[d.offset:])
		if !ok {
			return Record{}, formatErr(d.offset, ErrBadTag, "cannot determine record type without CNT")
		}
		typ = t
	}

	var (
		rec Record
		err error
	)
	if IsBinaryType(typ) {
		rec, err = d.readBinary(typ)
	} else {
		rec, err = d.readTagged(typ)
	}
	if err != nil {
		return Record{}, err
	}
	return d.emit(rec), nil
}

func (d *Decoder) emit(rec Record) Record {
	d.index++
	d.offset += int64(rec.Length)
	if d.metrics != nil {
		d.metrics.AddRecord(int64(rec.Length))
	}
	return rec
}

func (d *Decoder) readTagged(expected int) (Record, error) {
	start := d.offset
	buf := d.data[start:]
	typ, fld, colon, ok := peekTag(buf)
	if !ok {
		return Record{}, formatErr(start, ErrBadTag, "record does not start with a field tag")
	}
	if fld != 1 {
		return Record{}, formatErr(start, ErrBadTag, "record must start with its length field, found %d.%03d", typ, fld)
	}
	if typ != expected {
		return Record{}, formatErr(start, ErrBadTag, "expected type-%d record, found tag %d.001", expected, typ)
	}
	lenEnd := bytes.IndexAny(buf[colon+1:], string([]byte{GS, FS}))
	if lenEnd < 0 {
		return Record{}, formatErr(start, ErrTruncated, "length field of type-%d record not terminated", typ)
	}
	lenText := strings.TrimSpace(string(buf[colon+1 : colon+1+lenEnd]))
	length, err := strconv.Atoi(lenText)
	if err != nil || length <= colon+1 {
		return Record{}, formatErr(start, ErrBadLength, "invalid type-%d record length %q", typ, lenText)
	}
	if length > len(buf) {
		return Record{}, formatErr(start, ErrTruncated, "type-%d record length %d exceeds remaining %d bytes", typ, length, len(buf))
	}
	if buf[length-1] != FS {
		return Record{}, formatErr(start+int64(length-1), ErrBadLength, "type-%d record not terminated by a record separator", typ)
	}

	body := buf[:length-1]
	idx := d.index + 1
	rec := Record{Type: typ, Index: idx, Offset: start, Length: length}
	pos := 0
	for pos < len(body) {
		t, f, c, ok := peekTag(body[pos:])
		if !ok {
			return Record{}, formatErr(start+int64(pos), ErrBadTag, "field without tag in type-%d record", typ)
		}
		if t != typ {
			return Record{}, formatErr(start+int64(pos), ErrBadTag, "field tag %d.%03d inside type-%d record", t, f, typ)
		}
		field := Field{
			RecordType:  typ,
			FieldNumber: fmt.Sprintf("%03d", f),
			Indices:     []int{idx, len(rec.Fields) + 1},
			Offset:      start + int64(pos),
		}
		vstart := pos + c + 1
		if field.FieldNumber == ImageDataField {
			field.Value = body[vstart:]
			field.Binary = true
			pos = len(body)
		} else {
			vend := len(body)
			if i := bytes.IndexByte(body[vstart:], GS); i >= 0 {
				vend = vstart + i
			}
			field.Value = bytes.TrimRight(body[vstart:vend], separators)
			pos = vend + 1
		}
		rec.Fields = append(rec.Fields, field)
	}
	return rec, nil
}

func (d *Decoder) readBinary(typ int) (Record, error) {
	start := d.offset
	buf := d.data[start:]
	if len(buf) < binaryLenSize {
		return Record{}, formatErr(start, ErrTruncated, "type-%d record length header truncated", typ)
	}
	length := int64(binary.BigEndian.Uint32(buf[:binaryLenSize]))
	layout := binaryLayouts[typ]
	hdr := binaryLenSize
	for _, w := range layout {
		hdr += w
	}
	if length < int64(hdr) {
		return Record{}, formatErr(start, ErrBadLength, "type-%d record length %d shorter than its %d-byte header", typ, length, hdr)
	}
	if length > int64(len(buf)) {
		return Record{}, formatErr(start, ErrTruncated, "type-%d record length %d exceeds remaining %d bytes", typ, length, len(buf))
	}

	idx := d.index + 1
	rec := Record{Type: typ, Index: idx, Offset: start, Length: int(length)}
	add := func(num int, value []byte, isBinary bool, off int) {
		rec.Fields = append(rec.Fields, Field{
			RecordType:  typ,
			FieldNumber: fmt.Sprintf("%03d", num),
			Indices:     []int{idx, num},
			Offset:      start + int64(off),
			Value:       value,
			Binary:      isBinary,
		})
	}
	add(1, []byte(strconv.FormatInt(length, 10)), false, 0)
	pos := binaryLenSize
	for i, w := range layout {
		raw := buf[pos : pos+w]
		var text string
		if w == 6 {
			text = fingerPositions(raw)
		} else {
			text = strconv.FormatUint(beUint(raw), 10)
		}
		add(i+2, []byte(text), false, pos)
		pos += w
	}
	add(len(layout)+2, buf[pos:length], true, pos)
	return rec, nil
}

// Decode parses a complete transaction into its flat field sequence, in file
// order.
func Decode(data []byte) ([]Field, error) {
	recs, err := DecodeRecords(data)
	if err != nil {
		return nil, err
	}
	return Flatten(recs), nil
}

// DecodeRecords parses a complete transaction into logical records.
func DecodeRecords(data []byte) ([]Record, error) {
	return NewDecoder(data).ReadAll()
}

// ReadAll reads the remaining records until the end of the transaction.
func (d *Decoder) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := d.Next()
		if err == nil {
			out = append(out, rec)
			continue
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		return nil, err
	}
}

// peekTag parses a "T.NNN:" prefix and returns the record type, field number
// and the index of the colon.
func peekTag(b []byte) (typ, fld, colon int, ok bool) {
	i := 0
	for i < len(b) && i < maxTagDigits && isDigit(b[i]) {
		i++
	}
	if i == 0 || i >= len(b) || b[i] != '.' {
		return 0, 0, 0, false
	}
	dot := i
	i++
	for i < len(b) && i-dot <= maxTagDigits && isDigit(b[i]) {
		i++
	}
	if i == dot+1 || i >= len(b) || b[i] != ':' {
		return 0, 0, 0, false
	}
	typ, err := strconv.Atoi(string(b[:dot]))
	if err != nil {
		return 0, 0, 0, false
	}
	fld, err = strconv.Atoi(string(b[dot+1 : i]))
	if err != nil {
		return 0, 0, 0, false
	}
	return typ, fld, i, true
}

func parseContents(rec Record) ([]int, bool) {
	f, ok := rec.Field("003")
	if !ok {
		return nil, false
	}
	subs := f.Items()
	if len(subs) == 0 || len(subs[0]) < 2 {
		return nil, false
	}
	count, err := strconv.Atoi(strings.TrimSpace(string(subs[0][1])))
	if err != nil {
		return nil, false
	}
	var plan []int
	for _, items := range subs[1:] {
		if len(items) == 0 || len(bytes.TrimSpace(items[0])) == 0 {
			continue
		}
		t, err := strconv.Atoi(strings.TrimSpace(string(items[0])))
		if err != nil {
			return nil, false
		}
		plan = append(plan, t)
	}
	if count != len(plan) {
		common.Warnf("CNT declares %d records but lists %d", count, len(plan))
	}
	return plan, true
}

func fingerPositions(raw []byte) string {
	var parts []string
	for _, b := range raw {
		if b == unusedFGP {
			continue
		}
		parts = append(parts, strconv.Itoa(int(b)))
	}
	return strings.Join(parts, string(RS))
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
