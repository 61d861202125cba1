package metadata

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/an2k"
	"github.com/bentedesco/eft-fingerprint-viewer/internal/common"
)

type fieldKey struct {
	recordType int
	number     string
}

type fieldRule struct {
	apply  func(m *Metadata, value string)
	decode func(string) string
}

func transactionRule(set func(t *Transaction, v string), decode func(string) string) fieldRule {
	return fieldRule{
		apply:  func(m *Metadata, v string) { set(&m.Transaction, v) },
		decode: decode,
	}
}

func demographicRule(name string, decode func(string) string) fieldRule {
	return fieldRule{
		apply:  func(m *Metadata, v string) { m.Demographics.set(name, v) },
		decode: decode,
	}
}

// textRules maps single-valued textual fields. A repeated field overwrites
// the earlier value.
var textRules = map[fieldKey]fieldRule{
	{1, "004"}: transactionRule(func(t *Transaction, v string) { t.Type = v }, nil),
	{1, "005"}: transactionRule(func(t *Transaction, v string) { t.Date = v }, FormatDate),
	{1, "007"}: transactionRule(func(t *Transaction, v string) { t.DestAgency = v }, nil),
	{1, "008"}: transactionRule(func(t *Transaction, v string) { t.OrigAgency = v }, nil),
	{1, "009"}: transactionRule(func(t *Transaction, v string) { t.TCN = v }, nil),
	{2, "018"}: demographicRule("name", nil),
	{2, "020"}: demographicRule("pob", nil),
	{2, "022"}: demographicRule("dob", FormatDate),
	{2, "024"}: demographicRule("sex", DecodeSex),
	{2, "025"}: demographicRule("race", DecodeRace),
	{2, "027"}: demographicRule("height", FormatHeight),
	{2, "029"}: demographicRule("weight", FormatWeight),
	{2, "031"}: demographicRule("eyes", DecodeEyes),
	{2, "032"}: demographicRule("hair", DecodeHair),
	{2, "037"}: demographicRule("reason", nil),
	{2, "038"}: demographicRule("date_printed", FormatDate),
	{2, "041"}: demographicRule("address", nil),
}

// Interpret builds metadata from decoded fields in file order. It never
// fails; values that cannot be converted are logged and recorded in
// Metadata.Unparseable.
func Interpret(fields []an2k.Field) Metadata {
	var m Metadata
	for _, f := range fields {
		if f.Binary {
			continue
		}
		key := fieldKey{f.RecordType, f.FieldNumber}
		if rule, ok := textRules[key]; ok {
			v := plainText(f)
			if rule.decode != nil {
				v = rule.decode(v)
			}
			rule.apply(&m, v)
			continue
		}
		switch key {
		case fieldKey{14, "011"}:
			if m.Compression == "" {
				m.Compression = strings.TrimSpace(f.Text())
			}
		case fieldKey{14, "013"}:
			m.addPositions(f, false)
		case fieldKey{4, "004"}:
			m.addPositions(f, true)
		}
	}
	return m
}

// plainText joins the information items of a textual field with single
// spaces, dropping empty items.
func plainText(f an2k.Field) string {
	var parts []string
	for _, sub := range f.Items() {
		for _, item := range sub {
			if v := strings.TrimSpace(string(item)); v != "" {
				parts = append(parts, v)
			}
		}
	}
	return strings.Join(parts, " ")
}

// addPositions appends one FingerprintRecord per RS-separated position. When
// firstOnly is set only the leading position is used.
func (m *Metadata) addPositions(f an2k.Field, firstOnly bool) {
	for _, sub := range f.Subfields() {
		raw := string(bytes.TrimSpace(sub))
		if raw == "" {
			continue
		}
		pos, err := strconv.Atoi(raw)
		if err != nil {
			u := &UnparseableFieldValue{Tag: f.Tag(), Value: raw, Err: err}
			common.Warnf("%v", u)
			m.Unparseable = append(m.Unparseable, u)
			continue
		}
		m.Fingerprints = append(m.Fingerprints, FingerprintRecord{
			Position: pos,
			Name:     PositionName(pos),
			Record:   f.Record(),
		})
		if firstOnly {
			return
		}
	}
}

// Positions returns the reported positions in decode order, duplicates
// included.
func (m Metadata) Positions() []int {
	out := make([]int, len(m.Fingerprints))
	for i, fp := range m.Fingerprints {
		out[i] = fp.Position
	}
	return out
}
