package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bentedesco/eft-fingerprint-viewer/internal/metadata"
)

// Verdict lines lead Report.Messages.
const (
	VerdictValid      = "✓ FILE IS VALID"
	VerdictIncomplete = "✗ FILE IS INCOMPLETE"
)

// Position is a finger position with its display label.
type Position struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
}

// Report is the result of validating one transaction against its policy.
type Report struct {
	IsValid             bool                         `json:"is_valid"`
	TransactionType     string                       `json:"transaction_type"`
	FingerprintsPresent []metadata.FingerprintRecord `json:"fingerprints_present"`
	FingerprintsMissing []Position                   `json:"fingerprints_missing"`
	DemographicsPresent []string                     `json:"demographics_present"`
	DemographicsMissing []string                     `json:"demographics_missing"`
	MatchType           *string                      `json:"match_type"`
	Messages            []string                     `json:"messages"`
	Warnings            []string                     `json:"warnings"`

	// MatchedOption names the fully satisfied option, if any.
	MatchedOption *string `json:"-"`
	// Policy is the table key of the policy that was applied.
	Policy string `json:"-"`
}

// Verdict returns the leading message line.
func (r Report) Verdict() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0]
}

// Engine validates transactions against a requirement table. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	table Table
}

func NewEngine(t Table) *Engine {
	return &Engine{table: t.normalized()}
}

// Table returns the requirement table in use.
func (e *Engine) Table() Table {
	return e.table
}

// PolicyFor resolves the policy for a transaction type, falling back to the
// table default for unknown types.
func (e *Engine) PolicyFor(txType string) (string, Policy) {
	key := strings.ToUpper(strings.TrimSpace(txType))
	if p, ok := e.table.Policies[key]; ok {
		return key, p
	}
	return e.table.Default, e.table.Policies[e.table.Default]
}

// Validate checks the reported fingerprints and demographics against the
// policy for tx.Type. It never fails; missing data yields an incomplete
// report.
func (e *Engine) Validate(tx metadata.Transaction, demo metadata.Demographics, fps []metadata.FingerprintRecord) Report {
	rep := Report{
		TransactionType:     strings.ToUpper(strings.TrimSpace(tx.Type)),
		FingerprintsPresent: append([]metadata.FingerprintRecord{}, fps...),
		FingerprintsMissing: []Position{},
		DemographicsPresent: []string{},
		DemographicsMissing: []string{},
		Messages:            []string{},
		Warnings:            []string{},
	}
	var policy Policy
	rep.Policy, policy = e.PolicyFor(tx.Type)

	present := make(map[int]bool, len(fps))
	for _, fp := range fps {
		present[fp.Position] = true
	}

	var (
		closest     *Option
		bestMissing []int
	)
	for i := range policy.Options {
		opt := &policy.Options[i]
		missing := missingPositions(opt.Required, present)
		if len(missing) == 0 {
			rep.IsValid = true
			name := opt.Name
			rep.MatchedOption = &name
			rep.MatchType = &name
			rep.Messages = append(rep.Messages, fmt.Sprintf("✓ File contains valid %s", opt.Name))
			closest = nil
			break
		}
		if closest == nil || len(missing) < len(bestMissing) {
			closest = opt
			bestMissing = missing
		}
	}
	if !rep.IsValid && closest != nil {
		matchType := "Incomplete - closest to " + closest.Name
		rep.MatchType = &matchType
		sort.Ints(bestMissing)
		for _, pos := range bestMissing {
			rep.FingerprintsMissing = append(rep.FingerprintsMissing, Position{Position: pos, Name: missingLabel(pos)})
		}
		rep.Messages = append(rep.Messages, fmt.Sprintf("⚠ Missing %d fingerprint(s) for %s", len(bestMissing), closest.Name))
	}

	required := make(map[int]bool)
	for _, opt := range policy.Options {
		for _, pos := range opt.Required {
			required[pos] = true
		}
	}
	var extras []int
	for pos := range present {
		if !required[pos] {
			extras = append(extras, pos)
		}
	}
	sort.Ints(extras)
	for _, pos := range extras {
		name, ok := metadata.LookupPosition(pos)
		if !ok {
			name = "Unknown"
		}
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("Extra fingerprint at position %d: %s", pos, name))
	}

	for _, field := range policy.RequiredDemographics {
		if v, _ := demo.Get(field); v != "" {
			rep.DemographicsPresent = append(rep.DemographicsPresent, field)
		} else {
			rep.DemographicsMissing = append(rep.DemographicsMissing, field)
		}
	}
	if len(rep.DemographicsMissing) > 0 {
		rep.Messages = append(rep.Messages, fmt.Sprintf("⚠ Missing %d demographic field(s)", len(rep.DemographicsMissing)))
		rep.IsValid = false
	} else {
		rep.Messages = append(rep.Messages, "✓ All required demographic fields present")
	}

	verdict := VerdictIncomplete
	if rep.IsValid {
		verdict = VerdictValid
	}
	rep.Messages = append([]string{verdict}, rep.Messages...)
	return rep
}

// missingPositions returns required positions absent from present, without
// duplicates.
func missingPositions(required []int, present map[int]bool) []int {
	seen := make(map[int]bool, len(required))
	var out []int
	for _, pos := range required {
		if present[pos] || seen[pos] {
			continue
		}
		seen[pos] = true
		out = append(out, pos)
	}
	return out
}

func missingLabel(pos int) string {
	if name, ok := metadata.LookupPosition(pos); ok {
		return name
	}
	return fmt.Sprintf("Position %d", pos)
}
