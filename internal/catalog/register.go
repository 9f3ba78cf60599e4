package catalog

import (
	"strings"
)

// DataType is the wire encoding of a register value.
type DataType string

// Supported data types.
const (
	Short DataType = "short" // one unsigned 16-bit word
	Float DataType = "float" // two words, IEEE-754 single precision, low word first
	Long  DataType = "long"  // four words, signed 64-bit integer, lowest word first
)

// Words returns the number of 16-bit words the type occupies.
func (d DataType) Words() int {
	switch d {
	case Short:
		return 1
	case Long:
		return 4
	default:
		return 2
	}
}

// InferDataType maps a free-text type cell to a DataType by substring.
// Anything unrecognised is treated as a float.
func InferDataType(s string) DataType {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "long"), strings.Contains(s, "int64"):
		return Long
	case strings.Contains(s, "float"):
		return Float
	case strings.Contains(s, "short"), strings.Contains(s, "int16"), strings.Contains(s, "word"):
		return Short
	default:
		return Float
	}
}

// Kind classifies what a register measures, for the poller's filters.
type Kind string

// Register kinds.
const (
	KindOther       Kind = "other"
	KindCurrent     Kind = "current"
	KindPowerFactor Kind = "power_factor"
	KindVoltageLL   Kind = "voltage_ll"
	KindVoltageLN   Kind = "voltage_ln"
)

// Register is how to read and decode one value on a meter.
type Register struct {
	Address     uint16   `json:"address"`
	EndAddress  uint16   `json:"end_address"`
	WordCount   int      `json:"word_count"`
	DataType    DataType `json:"data_type"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category"`
	UnitFactor  float64  `json:"unit_factor"`
	Rounding    *int     `json:"rounding,omitempty"`
	Kind        Kind     `json:"kind"`
}

var (
	powerFactorMarkers = []string{"power factor", "powerfactor", "fattore di potenza", "cosφ", "cosphi", "cos phi", "cosfi", "cos fi"}
	voltageMarkers     = []string{"voltage", "tensione"}
	lineToLineMarkers  = []string{"l-l", "l1-l2", "l2-l3", "l3-l1", "l1l2", "l2l3", "l3l1", "line to line", "line-line", "concatenat", "vll"}
	currentMarkers     = []string{"current", "corrente", "ampere"}
)

// Classify derives the register kind from its label and description.
func Classify(label, description string) Kind {
	unit := strings.ToLower(strings.TrimSpace(label))
	text := strings.ToLower(label + " " + description)

	switch {
	case unit == "pf" || containsAny(text, powerFactorMarkers):
		return KindPowerFactor
	case unit == "v" || unit == "kv" || containsAny(text, voltageMarkers):
		if containsAny(text, lineToLineMarkers) {
			return KindVoltageLL
		}
		return KindVoltageLN
	case unit == "a" || unit == "ka" || containsAny(text, currentMarkers):
		return KindCurrent
	default:
		return KindOther
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// canonicalUnit rewrites watt labels to kilowatts. The factor replaces
// whatever the row declared.
func canonicalUnit(label string, factor float64) (string, float64) {
	l := strings.TrimSpace(label)
	if strings.EqualFold(l, "W") || strings.EqualFold(l, "Active Power W") {
		return "kW", 0.001
	}
	return l, factor
}

// slug lower-cases s and joins its words with underscores.
func slug(s string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			sep = false
			continue
		}
		sep = true
	}
	return b.String()
}
