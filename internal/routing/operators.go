// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package routing

import (
	"strconv"
	"strings"
)

// Operator names shared across evaluators. Operator semantics are
// evaluator-specific; these constants just keep the spelling uniform.
const (
	OpEquals      = "equals"
	OpNotEquals   = "notEquals"
	OpContains    = "contains"
	OpIn          = "in"
	OpNotIn       = "notIn"
	OpGreaterThan = "greaterThan"
	OpLessThan    = "lessThan"
	OpBetween     = "between"
)

// Condition values arrive from JSON as any: strings, float64 numbers,
// or []any. The coercion helpers below normalize them; a false ok means
// the value cannot serve the operator and the condition fails closed.

// toStrings coerces a scalar string or string array into a slice.
func toStrings(v any) ([]string, bool) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil, false
		}
		return []string{val}, true
	case []string:
		return val, len(val) > 0
	case []any:
		if len(val) == 0 {
			return nil, false
		}
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// toString coerces a scalar string value.
func toString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

// toInts coerces a scalar number or number array into ints. JSON
// numbers decode as float64; string digits are tolerated since rule
// editors routinely quote IDs.
func toInts(v any) ([]int, bool) {
	switch val := v.(type) {
	case float64:
		return []int{int(val)}, true
	case int:
		return []int{val}, true
	case []int:
		return val, len(val) > 0
	case []any:
		if len(val) == 0 {
			return nil, false
		}
		out := make([]int, 0, len(val))
		for _, item := range val {
			n, ok := toInt(item)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	default:
		return nil, false
	}
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case float64:
		return int(val), true
	case int:
		return val, true
	case string:
		n, err := strconv.Atoi(val)
		return n, err == nil
	default:
		return 0, false
	}
}

// containsFold reports whether set contains needle, case-insensitively.
func containsFold(set []string, needle string) bool {
	for _, s := range set {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

// anyOverlapFold reports whether the two string sets share any element,
// case-insensitively.
func anyOverlapFold(haystack, needles []string) bool {
	for _, n := range needles {
		if containsFold(haystack, n) {
			return true
		}
	}
	return false
}
