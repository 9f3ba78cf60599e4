package utility

import (
	"fmt"
	"sort"
)

// Threshold is the minimum current (amperes) a utility must draw to be
// polled in incremental cycles. ThresholdOff disables the check.
type Threshold int

// Supported thresholds.
const (
	ThresholdOff Threshold = 0
	Threshold5   Threshold = 5
	Threshold20  Threshold = 20
	Threshold40  Threshold = 40
)

// Valid reports whether t is one of the supported thresholds.
func (t Threshold) Valid() bool {
	switch t {
	case ThresholdOff, Threshold5, Threshold20, Threshold40:
		return true
	}
	return false
}

// Filter selects which utilities are polled and which may be skipped.
//
// Group1, Group2 and every tag level combine with AND; values within one
// of them combine with OR. An empty selection places no constraint.
// MinCurrent and OnlyErrors do not remove utilities from the list; the
// poller uses them to skip devices in incremental cycles.
type Filter struct {
	Group1       []string   `json:"group1"`
	Group2       []string   `json:"group2"`
	Tags         [][]string `json:"tags"`
	MinCurrent   Threshold  `json:"min_current"`
	OnlyErrors   bool       `json:"only_errors"`
	SelectedIDs  []string   `json:"selected_ids"`
	OnlySelected bool       `json:"only_selected"`
}

// Patch is a partial filter update. Nil fields are left unchanged.
type Patch struct {
	Group1       *[]string   `json:"group1,omitempty"`
	Group2       *[]string   `json:"group2,omitempty"`
	Tags         *[][]string `json:"tags,omitempty"`
	MinCurrent   *Threshold  `json:"min_current,omitempty"`
	OnlyErrors   *bool       `json:"only_errors,omitempty"`
	SelectedIDs  *[]string   `json:"selected_ids,omitempty"`
	OnlySelected *bool       `json:"only_selected,omitempty"`
}

// Validate checks the threshold.
func (f Filter) Validate() error {
	if !f.MinCurrent.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, f.MinCurrent)
	}
	return nil
}

// Apply returns f with the fields present in p replaced.
func (f Filter) Apply(p Patch) (Filter, error) {
	if p.Group1 != nil {
		f.Group1 = *p.Group1
	}
	if p.Group2 != nil {
		f.Group2 = *p.Group2
	}
	if p.Tags != nil {
		f.Tags = *p.Tags
	}
	if p.MinCurrent != nil {
		f.MinCurrent = *p.MinCurrent
	}
	if p.OnlyErrors != nil {
		f.OnlyErrors = *p.OnlyErrors
	}
	if p.SelectedIDs != nil {
		f.SelectedIDs = *p.SelectedIDs
	}
	if p.OnlySelected != nil {
		f.OnlySelected = *p.OnlySelected
	}
	return f, f.Validate()
}

// Matches reports whether u passes the list-narrowing part of the filter.
func (f Filter) Matches(u Utility) bool {
	if !inSelection(f.Group1, u.Group1) || !inSelection(f.Group2, u.Group2) {
		return false
	}
	for _, level := range f.Tags {
		if len(level) == 0 {
			continue
		}
		if !anyTagIn(level, u.Tags) {
			return false
		}
	}
	if f.OnlySelected && len(f.SelectedIDs) > 0 && !contains(f.SelectedIDs, u.ID) {
		return false
	}
	return true
}

// ApplyFilter returns the utilities matching f, in their original order.
func ApplyFilter(utilities []Utility, f Filter) []Utility {
	out := make([]Utility, 0, len(utilities))
	for _, u := range utilities {
		if f.Matches(u) {
			out = append(out, u)
		}
	}
	return out
}

func inSelection(selected []string, value string) bool {
	return len(selected) == 0 || contains(selected, value)
}

// anyTagIn matches against every tag of the utility, not just the tag at
// the level's position.
func anyTagIn(level, tags []string) bool {
	for _, t := range tags {
		if contains(level, t) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Facets are the distinct values clients can filter on.
type Facets struct {
	Group1 []string   `json:"group1"`
	Group2 []string   `json:"group2"`
	Tags   [][]string `json:"tags"`
}

// DeriveFacets collects sorted distinct Group1 and Group2 values, and the
// distinct tags found at each tag position.
func DeriveFacets(utilities []Utility) Facets {
	g1 := make(map[string]struct{})
	g2 := make(map[string]struct{})
	var levels []map[string]struct{}

	for _, u := range utilities {
		if u.Group1 != "" {
			g1[u.Group1] = struct{}{}
		}
		if u.Group2 != "" {
			g2[u.Group2] = struct{}{}
		}
		for i, t := range u.Tags {
			for len(levels) <= i {
				levels = append(levels, make(map[string]struct{}))
			}
			levels[i][t] = struct{}{}
		}
	}

	f := Facets{
		Group1: sortedKeys(g1),
		Group2: sortedKeys(g2),
		Tags:   make([][]string, len(levels)),
	}
	for i, l := range levels {
		f.Tags[i] = sortedKeys(l)
	}
	return f
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
