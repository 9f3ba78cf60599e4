package poller

import (
	"github.com/nerrad567/meterpoll/internal/catalog"
	"github.com/nerrad567/meterpoll/internal/infrastructure/config"
	"github.com/nerrad567/meterpoll/internal/utility"
)

// Limits are the bounds the only-errors filter checks readings against.
type Limits struct {
	PowerFactorRed float64
	VoltageLLMin   float64
	VoltageLLMax   float64
	VoltageLNMin   float64
	VoltageLNMax   float64
}

// LimitsFrom extracts the limits from runtime settings.
func LimitsFrom(s config.Settings) Limits {
	return Limits{
		PowerFactorRed: s.PowerFactorRed,
		VoltageLLMin:   s.VoltageLLMin,
		VoltageLLMax:   s.VoltageLLMax,
		VoltageLNMin:   s.VoltageLNMin,
		VoltageLNMax:   s.VoltageLNMax,
	}
}

// ShouldPoll decides whether a utility is polled in an incremental cycle,
// given its last known values (nil when it has never been polled).
//
// With both filters active a utility must pass both.
func ShouldPoll(last map[uint16]float64, known bool, registers []catalog.Register, f utility.Filter, lim Limits) bool {
	if !known {
		return true
	}
	if f.MinCurrent != utility.ThresholdOff && !ExceedsCurrent(last, registers, float64(f.MinCurrent)) {
		return false
	}
	if f.OnlyErrors && !HasViolation(last, registers, lim) {
		return false
	}
	return true
}

// ExceedsCurrent reports whether any current register reads above threshold.
func ExceedsCurrent(values map[uint16]float64, registers []catalog.Register, threshold float64) bool {
	for _, r := range registers {
		if r.Kind != catalog.KindCurrent {
			continue
		}
		if v, ok := values[r.Address]; ok && v > threshold {
			return true
		}
	}
	return false
}

// HasViolation reports whether any value breaks a domain rule: power factor
// under the red threshold, a voltage outside its band, or a negative value
// on a register of no particular kind.
func HasViolation(values map[uint16]float64, registers []catalog.Register, lim Limits) bool {
	for _, r := range registers {
		v, ok := values[r.Address]
		if !ok {
			continue
		}
		switch r.Kind {
		case catalog.KindPowerFactor:
			if v < lim.PowerFactorRed {
				return true
			}
		case catalog.KindVoltageLL:
			if v < lim.VoltageLLMin || v > lim.VoltageLLMax {
				return true
			}
		case catalog.KindVoltageLN:
			if v < lim.VoltageLNMin || v > lim.VoltageLNMax {
				return true
			}
		case catalog.KindOther:
			if v < 0 {
				return true
			}
		}
	}
	return false
}
