// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package routing

import (
	"strings"

	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

// DefaultEvaluators returns the standard evaluator registry. All string
// comparison is case-insensitive; set-valued operators reject empty
// value sets.
func DefaultEvaluators() []Evaluator {
	return []Evaluator{
		GenreEvaluator(),
		StreamingEvaluator(),
		LanguageEvaluator(),
		YearEvaluator(),
		UserEvaluator(),
		CertificationEvaluator(),
	}
}

// GenreEvaluator owns the genre fields. Operators: in/notIn against the
// item's genre set, equals (exact single genre), contains (substring
// match on any genre).
func GenreEvaluator() Evaluator {
	const name = "genre"
	return Evaluator{
		Name:     name,
		Priority: 80,
		CanEvaluate: func(item *models.ContentItem) bool {
			return len(item.Genres) > 0
		},
		OwnsField: func(field string) bool {
			return field == "genre" || field == "genres"
		},
		EvaluateCondition: func(cond models.Condition, item *models.ContentItem) bool {
			switch cond.Operator {
			case OpIn:
				values, ok := toStrings(cond.Value)
				if !ok {
					return warnInvalidValue(name, cond)
				}
				return anyOverlapFold(item.Genres, values)
			case OpNotIn:
				values, ok := toStrings(cond.Value)
				if !ok {
					return warnInvalidValue(name, cond)
				}
				return !anyOverlapFold(item.Genres, values)
			case OpEquals:
				value, ok := toString(cond.Value)
				if !ok {
					return warnInvalidValue(name, cond)
				}
				return containsFold(item.Genres, value)
			case OpContains:
				value, ok := toString(cond.Value)
				if !ok {
					return warnInvalidValue(name, cond)
				}
				for _, g := range item.Genres {
					if strings.Contains(strings.ToLower(g), strings.ToLower(value)) {
						return true
					}
				}
				return false
			default:
				return warnInvalidValue(name, cond)
			}
		},
	}
}

// StreamingEvaluator owns streaming availability fields. Values are
// provider IDs; "in" matches items available on any listed provider,
// "notIn" matches items available on none. Items without provider data
// are treated as available nowhere, so notIn rules still apply to them.
func StreamingEvaluator() Evaluator {
	const name = "streaming"
	return Evaluator{
		Name:     name,
		Priority: 85,
		CanEvaluate: func(*models.ContentItem) bool {
			return true
		},
		OwnsField: func(field string) bool {
			return field == "streamingServices" || field == "watchProviders"
		},
		EvaluateCondition: func(cond models.Condition, item *models.ContentItem) bool {
			providers, ok := toInts(cond.Value)
			if !ok {
				return warnInvalidValue(name, cond)
			}
			available := func() bool {
				for _, p := range providers {
					if _, found := item.WatchProviders[p]; found {
						return true
					}
				}
				return false
			}
			switch cond.Operator {
			case OpIn:
				return available()
			case OpNotIn:
				return !available()
			default:
				return warnInvalidValue(name, cond)
			}
		},
	}
}

// LanguageEvaluator owns the original-language fields.
func LanguageEvaluator() Evaluator {
	const name = "language"
	return Evaluator{
		Name:     name,
		Priority: 70,
		CanEvaluate: func(item *models.ContentItem) bool {
			return item.OriginalLanguage != ""
		},
		OwnsField: func(field string) bool {
			return field == "language" || field == "originalLanguage"
		},
		EvaluateCondition: func(cond models.Condition, item *models.ContentItem) bool {
			return evalStringField(name, cond, item.OriginalLanguage)
		},
	}
}

// YearEvaluator owns the release-year field. Operators: equals,
// notEquals, greaterThan, lessThan, between ([min, max], inclusive),
// in/notIn.
func YearEvaluator() Evaluator {
	const name = "year"
	return Evaluator{
		Name:     name,
		Priority: 60,
		CanEvaluate: func(item *models.ContentItem) bool {
			return item.Year > 0
		},
		OwnsField: func(field string) bool {
			return field == "year"
		},
		EvaluateCondition: func(cond models.Condition, item *models.ContentItem) bool {
			switch cond.Operator {
			case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan:
				values, ok := toInts(cond.Value)
				if !ok || len(values) != 1 {
					return warnInvalidValue(name, cond)
				}
				switch cond.Operator {
				case OpEquals:
					return item.Year == values[0]
				case OpNotEquals:
					return item.Year != values[0]
				case OpGreaterThan:
					return item.Year > values[0]
				default:
					return item.Year < values[0]
				}
			case OpBetween:
				values, ok := toInts(cond.Value)
				if !ok || len(values) != 2 {
					return warnInvalidValue(name, cond)
				}
				return item.Year >= values[0] && item.Year <= values[1]
			case OpIn, OpNotIn:
				values, ok := toInts(cond.Value)
				if !ok {
					return warnInvalidValue(name, cond)
				}
				found := false
				for _, v := range values {
					if item.Year == v {
						found = true
						break
					}
				}
				if cond.Operator == OpIn {
					return found
				}
				return !found
			default:
				return warnInvalidValue(name, cond)
			}
		},
	}
}

// UserEvaluator owns the watchlist-owner field, for per-user routing.
func UserEvaluator() Evaluator {
	const name = "user"
	return Evaluator{
		Name:     name,
		Priority: 90,
		CanEvaluate: func(item *models.ContentItem) bool {
			return item.User != ""
		},
		OwnsField: func(field string) bool {
			return field == "user" || field == "watchlistOwner"
		},
		EvaluateCondition: func(cond models.Condition, item *models.ContentItem) bool {
			return evalStringField(name, cond, item.User)
		},
	}
}

// CertificationEvaluator owns the content-rating field.
func CertificationEvaluator() Evaluator {
	const name = "certification"
	return Evaluator{
		Name:     name,
		Priority: 50,
		CanEvaluate: func(item *models.ContentItem) bool {
			return item.Certification != ""
		},
		OwnsField: func(field string) bool {
			return field == "certification" || field == "contentRating"
		},
		EvaluateCondition: func(cond models.Condition, item *models.ContentItem) bool {
			return evalStringField(name, cond, item.Certification)
		},
	}
}

// evalStringField implements the shared scalar string operator set:
// equals, notEquals, contains, in, notIn. All comparisons fold case.
func evalStringField(evaluator string, cond models.Condition, fieldValue string) bool {
	switch cond.Operator {
	case OpEquals:
		value, ok := toString(cond.Value)
		if !ok {
			return warnInvalidValue(evaluator, cond)
		}
		return strings.EqualFold(fieldValue, value)
	case OpNotEquals:
		value, ok := toString(cond.Value)
		if !ok {
			return warnInvalidValue(evaluator, cond)
		}
		return !strings.EqualFold(fieldValue, value)
	case OpContains:
		value, ok := toString(cond.Value)
		if !ok {
			return warnInvalidValue(evaluator, cond)
		}
		return strings.Contains(strings.ToLower(fieldValue), strings.ToLower(value))
	case OpIn:
		values, ok := toStrings(cond.Value)
		if !ok {
			return warnInvalidValue(evaluator, cond)
		}
		return containsFold(values, fieldValue)
	case OpNotIn:
		values, ok := toStrings(cond.Value)
		if !ok {
			return warnInvalidValue(evaluator, cond)
		}
		return !containsFold(values, fieldValue)
	default:
		return warnInvalidValue(evaluator, cond)
	}
}
