package rules

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/metadata"
)

func completeDemographics() metadata.Demographics {
	return metadata.Demographics{
		Name:        "DOE,JOHN",
		DateOfBirth: "1980-01-15",
		Sex:         "Male",
		Race:        "White",
		Height:      "5'10\"",
		Weight:      "180 lbs",
		Eyes:        "Brown",
		Hair:        "Black",
	}
}

func records(positions ...int) []metadata.FingerprintRecord {
	out := make([]metadata.FingerprintRecord, len(positions))
	for i, p := range positions {
		out[i] = metadata.FingerprintRecord{Position: p, Name: metadata.PositionName(p)}
	}
	return out
}

func fd258() []metadata.FingerprintRecord {
	return records(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 13, 14, 15)
}

func TestValidateCompleteFD258(t *testing.T) {
	eng := NewEngine(DefaultTable())
	rep := eng.Validate(metadata.Transaction{Type: "FAUF"}, completeDemographics(), fd258())

	assert.True(t, rep.IsValid)
	require.NotNil(t, rep.MatchType)
	assert.Equal(t, "Complete FD-258 (Rolled + Slaps)", *rep.MatchType)
	require.NotNil(t, rep.MatchedOption)
	assert.Equal(t, *rep.MatchType, *rep.MatchedOption)
	assert.Empty(t, rep.FingerprintsMissing)
	assert.Empty(t, rep.Warnings)
	assert.Empty(t, rep.DemographicsMissing)
	assert.Equal(t, []string{
		VerdictValid,
		"✓ File contains valid Complete FD-258 (Rolled + Slaps)",
		"✓ All required demographic fields present",
	}, rep.Messages)
}

func TestValidateRolledOnlyWhenSlapsMissing(t *testing.T) {
	eng := NewEngine(DefaultTable())
	rep := eng.Validate(metadata.Transaction{Type: "FAUF"}, completeDemographics(), records(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 13, 14))

	// Option two is fully satisfied, so it is accepted after option one fails.
	assert.True(t, rep.IsValid)
	require.NotNil(t, rep.MatchType)
	assert.Equal(t, "Rolled Prints Only", *rep.MatchType)
	assert.Empty(t, rep.FingerprintsMissing)
}

func TestValidateMissingThumbSlap(t *testing.T) {
	tbl := Table{Default: "FAUF", Policies: map[string]Policy{
		"FAUF": {
			RequiredDemographics: []string{"name"},
			Options: []Option{
				{Name: "Complete FD-258 (Rolled + Slaps)", Required: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 13, 14, 15}},
			},
		},
	}}
	rep := NewEngine(tbl).Validate(metadata.Transaction{Type: "FAUF"}, completeDemographics(), records(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 13, 14))

	assert.False(t, rep.IsValid)
	require.NotNil(t, rep.MatchType)
	assert.Equal(t, "Incomplete - closest to Complete FD-258 (Rolled + Slaps)", *rep.MatchType)
	assert.Nil(t, rep.MatchedOption)
	assert.Equal(t, []Position{{Position: 15, Name: "Plain Thumbs (Both)"}}, rep.FingerprintsMissing)
	assert.Equal(t, VerdictIncomplete, rep.Verdict())
}

func TestValidateSlapsOnly(t *testing.T) {
	rep := NewEngine(DefaultTable()).Validate(metadata.Transaction{Type: "FAUF"}, completeDemographics(), records(13, 14, 15))
	assert.True(t, rep.IsValid)
	require.NotNil(t, rep.MatchType)
	assert.Equal(t, "Flat/Slap Impressions Only", *rep.MatchType)
}

func TestValidateFirstSatisfiedOptionWins(t *testing.T) {
	tbl := Table{Default: "X", Policies: map[string]Policy{
		"X": {Options: []Option{
			{Name: "first", Required: []int{1}},
			{Name: "second", Required: []int{1}},
		}},
	}}
	rep := NewEngine(tbl).Validate(metadata.Transaction{Type: "X"}, metadata.Demographics{}, records(1))
	require.NotNil(t, rep.MatchType)
	assert.Equal(t, "first", *rep.MatchType)
	assert.True(t, rep.IsValid)
}

func TestValidateClosestTieKeepsEarlierOption(t *testing.T) {
	tbl := Table{Default: "X", Policies: map[string]Policy{
		"X": {Options: []Option{
			{Name: "a", Required: []int{1, 2}},
			{Name: "b", Required: []int{3, 4}},
			{Name: "c", Required: []int{5}},
		}},
	}}
	rep := NewEngine(tbl).Validate(metadata.Transaction{Type: "X"}, metadata.Demographics{}, records(1, 3))
	require.NotNil(t, rep.MatchType)
	assert.Equal(t, "Incomplete - closest to a", *rep.MatchType)
	assert.Equal(t, []Position{{Position: 2, Name: "Right Index"}}, rep.FingerprintsMissing)
}

func TestValidateUnknownTypeFallsBackToDefault(t *testing.T) {
	eng := NewEngine(DefaultTable())
	rep := eng.Validate(metadata.Transaction{Type: "zzzz"}, completeDemographics(), fd258())
	assert.Equal(t, "ZZZZ", rep.TransactionType)
	assert.Equal(t, "FAUF", rep.Policy)
	assert.True(t, rep.IsValid)

	empty := eng.Validate(metadata.Transaction{}, metadata.Demographics{}, nil)
	assert.False(t, empty.IsValid)
	assert.Equal(t, "", empty.TransactionType)
	assert.Len(t, empty.DemographicsMissing, 8)
	require.NotNil(t, empty.MatchType)
	assert.Equal(t, "Incomplete - closest to Flat/Slap Impressions Only", *empty.MatchType)
}

func TestValidateMissingWeightDowngrades(t *testing.T) {
	demo := completeDemographics()
	demo.Weight = ""
	rep := NewEngine(DefaultTable()).Validate(metadata.Transaction{Type: "FAUF"}, demo, fd258())

	assert.False(t, rep.IsValid)
	require.NotNil(t, rep.MatchedOption)
	assert.Equal(t, "Complete FD-258 (Rolled + Slaps)", *rep.MatchedOption)
	assert.Equal(t, []string{"weight"}, rep.DemographicsMissing)
	assert.Equal(t, VerdictIncomplete, rep.Messages[0])
	assert.Equal(t, "⚠ Missing 1 demographic field(s)", rep.Messages[2])
}

func TestValidateExtraPositionWarnsOnly(t *testing.T) {
	fps := append(fd258(), metadata.FingerprintRecord{Position: 11, Name: "Plain Right Thumb"})
	rep := NewEngine(DefaultTable()).Validate(metadata.Transaction{Type: "FAUF"}, completeDemographics(), fps)
	assert.True(t, rep.IsValid)
	assert.Equal(t, []string{"Extra fingerprint at position 11: Plain Right Thumb"}, rep.Warnings)

	odd := NewEngine(DefaultTable()).Validate(metadata.Transaction{Type: "FAUF"}, completeDemographics(), records(42))
	assert.Equal(t, []string{"Extra fingerprint at position 42: Unknown"}, odd.Warnings)
}

func TestValidateOutOfTableRequiredPosition(t *testing.T) {
	tbl := Table{Default: "X", Policies: map[string]Policy{
		"X": {Options: []Option{{Name: "odd", Required: []int{20}}}},
	}}
	rep := NewEngine(tbl).Validate(metadata.Transaction{Type: "X"}, metadata.Demographics{}, nil)
	assert.Equal(t, []Position{{Position: 20, Name: "Position 20"}}, rep.FingerprintsMissing)
}

func TestValidateIsDeterministic(t *testing.T) {
	eng := NewEngine(DefaultTable())
	fps := records(15, 3, 1, 3, 11, 12, 14)
	first, err := json.Marshal(eng.Validate(metadata.Transaction{Type: "fauf"}, completeDemographics(), fps))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(eng.Validate(metadata.Transaction{Type: "fauf"}, completeDemographics(), fps))
		require.NoError(t, err)
		assert.JSONEq(t, string(first), string(again))
	}
}

func TestReportJSONKeys(t *testing.T) {
	rep := NewEngine(DefaultTable()).Validate(metadata.Transaction{Type: "FAUF"}, metadata.Demographics{}, nil)
	raw, err := json.Marshal(rep)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	want := []string{
		"is_valid", "transaction_type", "fingerprints_present", "fingerprints_missing",
		"demographics_present", "demographics_missing", "match_type", "messages", "warnings",
	}
	assert.Len(t, doc, len(want))
	for _, k := range want {
		assert.Contains(t, doc, k)
	}
	assert.Equal(t, "[]", string(doc["fingerprints_present"]))
}

func TestDefaultTable(t *testing.T) {
	tbl := DefaultTable()
	assert.Equal(t, "FAUF", tbl.Default)
	assert.Equal(t, []string{"FAUF"}, tbl.Types())
	p := tbl.Policies["FAUF"]
	require.Len(t, p.Options, 3)
	assert.Equal(t, []string{"name", "dob", "sex", "race", "height", "weight", "eyes", "hair"}, p.RequiredDemographics)
	assert.Equal(t, []int{13, 14, 15}, p.Options[2].Required)
}

func TestLoadTable(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
default: fanc
policies:
  fanc:
    required_demographics: [name]
    fingerprint_options:
      - name: Slaps
        required: [13, 14, 15]
`), 0o644))
	tbl, err := LoadTable(good)
	require.NoError(t, err)
	assert.Equal(t, "FANC", tbl.Default)
	assert.Contains(t, tbl.Policies, "FANC")

	jsonPath := filepath.Join(dir, "policies.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"default":"A","policies":{"A":{"fingerprint_options":[{"name":"one","required":[1]}]}}}`), 0o644))
	_, err = LoadTable(jsonPath)
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
	}{
		{"missing default policy", "default: B\npolicies:\n  A:\n    fingerprint_options:\n      - name: x\n        required: [1]\n"},
		{"no options", "default: A\npolicies:\n  A:\n    fingerprint_options: []\n"},
		{"unnamed option", "default: A\npolicies:\n  A:\n    fingerprint_options:\n      - required: [1]\n"},
		{"negative position", "default: A\npolicies:\n  A:\n    fingerprint_options:\n      - name: x\n        required: [-1]\n"},
		{"unknown demographic", "default: A\npolicies:\n  A:\n    required_demographics: [shoe]\n    fingerprint_options:\n      - name: x\n        required: [1]\n"},
		{"not yaml", "default: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := filepath.Join(dir, "bad.yaml")
			require.NoError(t, os.WriteFile(p, []byte(tc.body), 0o644))
			_, err := LoadTable(p)
			assert.Error(t, err)
		})
	}
}

func TestTableYAMLRoundTrip(t *testing.T) {
	out, err := DefaultTable().YAML()
	require.NoError(t, err)
	back, err := ParseTable(out)
	require.NoError(t, err)
	assert.Equal(t, DefaultTable(), back)
}
