package metadata

import (
	"fmt"
	"strconv"
)

var sexCodes = map[string]string{
	"M": "Male",
	"F": "Female",
}

var raceCodes = map[string]string{
	"A": "Asian",
	"B": "Black",
	"I": "American Indian",
	"W": "White",
	"P": "Pacific Islander",
	"H": "Hispanic",
	"U": "Unknown",
}

var eyeCodes = map[string]string{
	"BLK": "Black",
	"BLU": "Blue",
	"BRO": "Brown",
	"GRY": "Gray",
	"GRN": "Green",
	"HAZ": "Hazel",
	"MAR": "Maroon",
	"PNK": "Pink",
}

var hairCodes = map[string]string{
	"BLK": "Black",
	"BLN": "Blonde",
	"BRO": "Brown",
	"GRY": "Gray",
	"RED": "Red",
	"SDY": "Sandy",
	"WHI": "White",
	"BAL": "Bald",
}

var positionNames = map[int]string{
	0:  "Unknown",
	1:  "Right Thumb",
	2:  "Right Index",
	3:  "Right Middle",
	4:  "Right Ring",
	5:  "Right Little",
	6:  "Left Thumb",
	7:  "Left Index",
	8:  "Left Middle",
	9:  "Left Ring",
	10: "Left Little",
	11: "Plain Right Thumb",
	12: "Plain Left Thumb",
	13: "Plain Right Four",
	14: "Plain Left Four",
	15: "Plain Thumbs (Both)",
}

func lookup(table map[string]string, code string) string {
	if v, ok := table[code]; ok {
		return v
	}
	return code
}

// DecodeSex expands M/F; other codes pass through.
func DecodeSex(code string) string { return lookup(sexCodes, code) }

func DecodeRace(code string) string { return lookup(raceCodes, code) }

func DecodeEyes(code string) string { return lookup(eyeCodes, code) }

func DecodeHair(code string) string { return lookup(hairCodes, code) }

// PositionName returns the finger position label, or "Unknown (n)" outside
// the 0-15 table.
func PositionName(position int) string {
	if name, ok := positionNames[position]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (%d)", position)
}

// FormatDate renders YYYYMMDD as YYYY-MM-DD. Shorter input is returned as is.
func FormatDate(s string) string {
	if len(s) < 8 {
		return s
	}
	return s[:4] + "-" + s[4:6] + "-" + s[6:8]
}

// FormatHeight renders FII (feet digit, inches) as F'I". Input shorter than
// three characters or with non-numeric inches is returned as is.
func FormatHeight(s string) string {
	if len(s) < 3 {
		return s
	}
	inches, err := strconv.Atoi(s[1:])
	if err != nil {
		return s
	}
	return fmt.Sprintf("%c'%d\"", s[0], inches)
}

// FormatWeight appends the pound unit to a non-empty weight.
func FormatWeight(s string) string {
	if s == "" {
		return s
	}
	return s + " lbs"
}

// LookupPosition returns the label of a documented finger position.
func LookupPosition(position int) (string, bool) {
	name, ok := positionNames[position]
	return name, ok
}
