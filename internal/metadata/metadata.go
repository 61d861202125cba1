// Package metadata maps decoded ANSI/NIST-ITL fields onto transaction,
// demographic and fingerprint metadata.
package metadata

import "fmt"

// Transaction carries the Type-1 header values.
type Transaction struct {
	Type       string `json:"type,omitempty"`
	Date       string `json:"date,omitempty"`
	DestAgency string `json:"dest_agency,omitempty"`
	OrigAgency string `json:"orig_agency,omitempty"`
	TCN        string `json:"tcn,omitempty"`
}

// Demographics carries decoded Type-2 subject values. Empty means absent.
type Demographics struct {
	Name         string `json:"name,omitempty"`
	PlaceOfBirth string `json:"pob,omitempty"`
	DateOfBirth  string `json:"dob,omitempty"`
	Sex          string `json:"sex,omitempty"`
	Race         string `json:"race,omitempty"`
	Height       string `json:"height,omitempty"`
	Weight       string `json:"weight,omitempty"`
	Eyes         string `json:"eyes,omitempty"`
	Hair         string `json:"hair,omitempty"`
	Reason       string `json:"reason,omitempty"`
	DatePrinted  string `json:"date_printed,omitempty"`
	Address      string `json:"address,omitempty"`
}

// DemographicFields lists the names accepted by Demographics.Get.
var DemographicFields = []string{
	"name", "pob", "dob", "sex", "race", "height", "weight",
	"eyes", "hair", "reason", "date_printed", "address",
}

// Get returns the value of a demographic attribute by its report name.
// Unknown names yield "" and false.
func (d Demographics) Get(name string) (string, bool) {
	switch name {
	case "name":
		return d.Name, true
	case "pob":
		return d.PlaceOfBirth, true
	case "dob":
		return d.DateOfBirth, true
	case "sex":
		return d.Sex, true
	case "race":
		return d.Race, true
	case "height":
		return d.Height, true
	case "weight":
		return d.Weight, true
	case "eyes":
		return d.Eyes, true
	case "hair":
		return d.Hair, true
	case "reason":
		return d.Reason, true
	case "date_printed":
		return d.DatePrinted, true
	case "address":
		return d.Address, true
	}
	return "", false
}

func (d *Demographics) set(name, value string) {
	switch name {
	case "name":
		d.Name = value
	case "pob":
		d.PlaceOfBirth = value
	case "dob":
		d.DateOfBirth = value
	case "sex":
		d.Sex = value
	case "race":
		d.Race = value
	case "height":
		d.Height = value
	case "weight":
		d.Weight = value
	case "eyes":
		d.Eyes = value
	case "hair":
		d.Hair = value
	case "reason":
		d.Reason = value
	case "date_printed":
		d.DatePrinted = value
	case "address":
		d.Address = value
	}
}

// FingerprintRecord is one finger position reported by an image record.
type FingerprintRecord struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
	// Record is the 1-based index of the image record in the file.
	Record int `json:"-"`
}

// Metadata is the interpreted view of one transaction.
type Metadata struct {
	Transaction  Transaction         `json:"transaction"`
	Demographics Demographics        `json:"demographics"`
	Fingerprints []FingerprintRecord `json:"fingerprint_records"`
	Compression  string              `json:"compression,omitempty"`
	// Unparseable lists field values that were skipped.
	Unparseable []*UnparseableFieldValue `json:"-"`
}

// UnparseableFieldValue reports a field whose value could not be converted.
// It never aborts interpretation.
type UnparseableFieldValue struct {
	Tag   string
	Value string
	Err   error
}

func (e *UnparseableFieldValue) Error() string {
	return fmt.Sprintf("metadata: field %s: cannot parse %q: %v", e.Tag, e.Value, e.Err)
}

func (e *UnparseableFieldValue) Unwrap() error {
	return e.Err
}
