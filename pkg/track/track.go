// Package track classifies report identifiers into scenario tracks and
// aggregates per-track counts.
package track

import (
	"math"
	"strconv"
	"strings"
)

// Key is a canonical scenario track.
type Key string

const (
	EVOEMDomestic       Key = "ev_oem_domestic"
	EVOEMExport         Key = "ev_oem_export"
	SemiOSATExport      Key = "semi_osat_export"
	BatterySupplyChain  Key = "battery_supply_chain"
	IndustrialPowerGrid Key = "industrial_power_grid"
	CriticalMinerals    Key = "critical_minerals"
	MaritimeLogistics   Key = "maritime_logistics"
	SanctionsControls   Key = "sanctions_controls"
	Other               Key = "other"
)

// CanonicalKeys is the ordered track set. Classification tests the keys in
// this order, so a new key whose dotted token contains an existing one must
// be inserted ahead of it.
var CanonicalKeys = []Key{
	EVOEMDomestic,
	EVOEMExport,
	SemiOSATExport,
	BatterySupplyChain,
	IndustrialPowerGrid,
	CriticalMinerals,
	MaritimeLogistics,
	SanctionsControls,
	Other,
}

// DefaultFocus is used when no focus list is configured.
var DefaultFocus = []Key{CriticalMinerals, MaritimeLogistics}

// DeriveFromReportID returns the first track whose ".<key>." token occurs in
// the lower-cased id, or Other.
func DeriveFromReportID(id string) Key {
	normalized := strings.ToLower(id)
	for _, k := range CanonicalKeys {
		if k == Other {
			continue
		}
		if strings.Contains(normalized, "."+string(k)+".") {
			return k
		}
	}
	return Other
}

// Counts maps track keys to report counts.
type Counts map[Key]int

// NewCounts returns counts with every key in keys set to zero.
func NewCounts(keys []Key) Counts {
	c := make(Counts, len(keys))
	for _, k := range keys {
		c[k] = 0
	}
	return c
}

// Get returns the count for k, zero when absent.
func (c Counts) Get(k Key) int {
	return c[k]
}

// CountReports classifies each entry by report_id, falling back to id.
// Every key in keys is present in the result.
func CountReports(reports []interface{}, keys []Key) Counts {
	counts := NewCounts(keys)
	for _, entry := range reports {
		counts[DeriveFromReportID(entryID(entry))]++
	}
	return counts
}

func entryID(entry interface{}) string {
	m, _ := entry.(map[string]interface{})
	for _, field := range []string{"report_id", "id"} {
		if s, ok := m[field].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// FocusMetrics summarizes counts restricted to a focus list.
type FocusMetrics struct {
	Counts Counts
	Sum    int
	Min    int
}

// ComputeFocus extracts the focus subset of counts with its sum and minimum.
// Min is zero for an empty focus list.
func ComputeFocus(counts Counts, focus []Key) FocusMetrics {
	m := FocusMetrics{Counts: make(Counts, len(focus))}
	if len(focus) == 0 {
		return m
	}
	m.Min = math.MaxInt
	for _, k := range focus {
		v := counts.Get(k)
		m.Counts[k] = v
		m.Sum += v
		if v < m.Min {
			m.Min = v
		}
	}
	return m
}

// ParseFocus splits a comma-separated list, trimming blanks. An empty result
// falls back to DefaultFocus.
func ParseFocus(value string) []Key {
	var out []Key
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, Key(p))
		}
	}
	if len(out) == 0 {
		return append([]Key(nil), DefaultFocus...)
	}
	return out
}

// Strings renders keys as plain strings.
func Strings(keys []Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

// FromStrings converts plain strings to keys, dropping blanks.
func FromStrings(values []string) []Key {
	var out []Key
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, Key(v))
		}
	}
	return out
}

// ParseMinReports parses a minimum-report threshold. Blank, non-numeric,
// non-finite or negative input yields 1; fractions are floored.
func ParseMinReports(value string) int {
	const fallback = 1
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return fallback
	}
	return int(math.Floor(f))
}
