package rules

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed policies/default.yaml
var defaultTableYAML []byte

// Option is one acceptable set of finger positions within a policy.
type Option struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    []int  `yaml:"required" json:"required" validate:"required,min=1,dive,min=0"`
}

// Policy lists the requirements for one transaction type. Options are
// evaluated in order.
type Policy struct {
	Description          string   `yaml:"description,omitempty" json:"description,omitempty"`
	RequiredDemographics []string `yaml:"required_demographics" json:"required_demographics" validate:"dive,oneof=name pob dob sex race height weight eyes hair reason date_printed address"`
	Options              []Option `yaml:"fingerprint_options" json:"fingerprint_options" validate:"required,min=1,dive"`
}

// Table maps upper-cased transaction types to policies. Default names the
// policy applied to unknown types.
type Table struct {
	Default  string            `yaml:"default" json:"default" validate:"required"`
	Policies map[string]Policy `yaml:"policies" json:"policies" validate:"required,min=1,dive"`
}

var validate = validator.New()

// DefaultTable returns the built-in requirement table.
func DefaultTable() Table {
	t, err := ParseTable(defaultTableYAML)
	if err != nil {
		panic(fmt.Sprintf("rules: built-in table: %v", err))
	}
	return t
}

// LoadTable reads a YAML or JSON requirement table from path.
func LoadTable(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Table{}, err
	}
	t, err := ParseTable(b)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseTable decodes and validates a requirement table. Transaction type
// keys are upper-cased.
func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("parse policy table: %w", err)
	}
	t = t.normalized()
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

func (t Table) normalized() Table {
	out := Table{Default: strings.ToUpper(strings.TrimSpace(t.Default))}
	if t.Policies != nil {
		out.Policies = make(map[string]Policy, len(t.Policies))
		for k, p := range t.Policies {
			out.Policies[strings.ToUpper(strings.TrimSpace(k))] = p
		}
	}
	return out
}

// Validate checks structural constraints and that the default policy exists.
func (t Table) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid policy table: %w", err)
	}
	if _, ok := t.Policies[t.Default]; !ok {
		return fmt.Errorf("invalid policy table: default policy %q not defined", t.Default)
	}
	return nil
}

// Types returns the transaction types in sorted order.
func (t Table) Types() []string {
	out := make([]string, 0, len(t.Policies))
	for k := range t.Policies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// YAML renders the table in the format accepted by ParseTable.
func (t Table) YAML() ([]byte, error) {
	return yaml.Marshal(t)
}
