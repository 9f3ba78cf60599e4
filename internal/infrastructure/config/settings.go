package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings errors.
var (
	// ErrSettingsUnavailable is returned when the settings file cannot be read or parsed.
	// Callers keep whatever settings they had before.
	ErrSettingsUnavailable = errors.New("config: settings unavailable")

	// ErrInvalidSetting is returned alongside usable settings when one or more
	// keys held values that could not be parsed. Those keys fall back to defaults.
	ErrInvalidSetting = errors.New("config: invalid setting")
)

// Settings are the runtime tunables re-read at the start of every polling cycle.
// The file is a flat YAML mapping of key to value; keys that are missing
// take their default.
type Settings struct {
	PollIntervalMS   int     `json:"poll_interval_ms"`
	TimeoutMS        int     `json:"timeout_ms"`
	FullScanInterval int     `json:"full_scan_interval"`
	PowerFactorRed   float64 `json:"power_factor_red"`
	VoltageLLMin     float64 `json:"voltage_ll_min"`
	VoltageLLMax     float64 `json:"voltage_ll_max"`
	VoltageLNMin     float64 `json:"voltage_ln_min"`
	VoltageLNMax     float64 `json:"voltage_ln_max"`
	Decimals         int     `json:"decimals"`
}

// DefaultSettings returns the hardcoded fallbacks for every key.
func DefaultSettings() Settings {
	return Settings{
		PollIntervalMS:   1000,
		TimeoutMS:        3000,
		FullScanInterval: 20,
		PowerFactorRed:   0.85,
		VoltageLLMin:     360,
		VoltageLLMax:     440,
		VoltageLNMin:     207,
		VoltageLNMax:     253,
		Decimals:         2,
	}
}

// PollInterval is the delay between two polling cycles.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMS) * time.Millisecond
}

// Timeout bounds connecting to and reading from a single meter.
func (s Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// LoadSettings reads the key/value settings file at path.
//
// A file that cannot be read or parsed yields ErrSettingsUnavailable and
// DefaultSettings. Unparsable or out-of-range values are replaced by their
// defaults and reported with ErrInvalidSetting; the returned Settings are
// usable in that case.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("%w: %w", ErrSettingsUnavailable, err)
	}

	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return s, fmt.Errorf("%w: parsing %s: %w", ErrSettingsUnavailable, path, err)
	}

	return parseSettings(raw)
}

func parseSettings(raw map[string]any) (Settings, error) {
	s := DefaultSettings()
	var bad []string

	ints := map[string]*int{
		"poll_interval_ms":   &s.PollIntervalMS,
		"timeout_ms":         &s.TimeoutMS,
		"full_scan_interval": &s.FullScanInterval,
		"decimals":           &s.Decimals,
	}
	floats := map[string]*float64{
		"power_factor_red": &s.PowerFactorRed,
		"voltage_ll_min":   &s.VoltageLLMin,
		"voltage_ll_max":   &s.VoltageLLMax,
		"voltage_ln_min":   &s.VoltageLNMin,
		"voltage_ln_max":   &s.VoltageLNMax,
	}

	for key, value := range raw {
		key = strings.ToLower(strings.TrimSpace(key))
		if dst, ok := ints[key]; ok {
			f, err := toFloat(value)
			if err != nil || f < 0 || f != float64(int(f)) {
				bad = append(bad, key)
				continue
			}
			*dst = int(f)
			continue
		}
		if dst, ok := floats[key]; ok {
			f, err := toFloat(value)
			if err != nil {
				bad = append(bad, key)
				continue
			}
			*dst = f
		}
	}

	if s.FullScanInterval < 1 {
		s.FullScanInterval = DefaultSettings().FullScanInterval
		bad = append(bad, "full_scan_interval")
	}
	if s.TimeoutMS < 1 {
		s.TimeoutMS = DefaultSettings().TimeoutMS
		bad = append(bad, "timeout_ms")
	}

	if len(bad) > 0 {
		sort.Strings(bad)
		return s, fmt.Errorf("%w: %s", ErrInvalidSetting, strings.Join(bad, ", "))
	}
	return s, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("unsupported value %v", v)
	}
}
