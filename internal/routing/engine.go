// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

// Package routing evaluates enriched content items against prioritized
// routing rules and produces acquisition decisions.
//
// Rules carry nested AND/OR/NOT criteria trees over named fields; each
// field is owned by exactly one registered evaluator. Evaluation fails
// closed: an unknown field, an empty value set, or an uncoercible value
// makes the leaf false with a logged warning, never an error — one
// misconfigured rule must not block routing for everything else.
package routing

import (
	"sort"

	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
	"github.com/jamcalli/Pulsarr-sub006/internal/metrics"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

// Evaluator is one pluggable routing component. Evaluators are plain
// records resolved by linear scan; the registry stays in the single
// digits so anything cleverer would be overhead.
type Evaluator struct {
	// Name identifies the evaluator in logs and metrics.
	Name string

	// Priority orders evaluators for field-ownership resolution and
	// presentation. All applicable evaluators always run; priority
	// never short-circuits.
	Priority int

	// CanEvaluate is a cheap precondition ("does this item carry
	// language metadata"). A false result makes every leaf owned by
	// this evaluator false for the item.
	CanEvaluate func(item *models.ContentItem) bool

	// OwnsField reports whether this evaluator owns a condition field.
	OwnsField func(field string) bool

	// EvaluateCondition evaluates one leaf against the item. It returns
	// the raw operator result; leaf negation is applied by the tree
	// walker, never here, so it cannot be double-applied.
	EvaluateCondition func(cond models.Condition, item *models.ContentItem) bool
}

// Engine evaluates items against routing rules using the registered
// evaluators.
type Engine struct {
	evaluators []Evaluator
}

// NewEngine creates an engine from the given evaluators, ordered by
// descending priority.
func NewEngine(evaluators ...Evaluator) *Engine {
	sorted := make([]Evaluator, len(evaluators))
	copy(sorted, evaluators)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &Engine{evaluators: sorted}
}

// Evaluators returns the registered evaluators in priority order.
func (e *Engine) Evaluators() []Evaluator {
	return e.evaluators
}

// Evaluate computes every routing decision for the item. Rules are
// filtered to the item's instance family, then each enabled rule's
// criteria tree is evaluated; all matching rules contribute a decision.
// The union is returned ordered by rule priority descending — callers
// decide whether to take the first or fan out to all.
func (e *Engine) Evaluate(item *models.ContentItem, rules []models.RoutingRule) []models.RoutingDecision {
	target := models.TargetFor(item.ContentType)

	var decisions []models.RoutingDecision
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || rule.TargetType != target {
			continue
		}
		if rule.CriteriaTree == nil || !e.evalGroup(rule.CriteriaTree, item) {
			continue
		}
		decisions = append(decisions, models.RoutingDecision{
			InstanceID:     rule.TargetInstanceID,
			TargetType:     rule.TargetType,
			QualityProfile: rule.QualityProfile,
			RootFolder:     rule.RootFolder,
			Priority:       rule.Priority,
			RuleID:         rule.ID,
		})
		if owner := e.primaryEvaluator(rule.CriteriaTree); owner != "" {
			metrics.RoutingDecisionsTotal.WithLabelValues(owner).Inc()
		}
	}

	sort.SliceStable(decisions, func(i, j int) bool {
		return decisions[i].Priority > decisions[j].Priority
	})
	return decisions
}

// evalGroup evaluates a condition group: children combined with AND/OR,
// then the group's own negate applied to the combined result.
func (e *Engine) evalGroup(group *models.ConditionGroup, item *models.ContentItem) bool {
	var result bool
	switch group.LogicalOp {
	case models.LogicalAnd:
		result = true
		for _, child := range group.Children {
			if !e.evalNode(child, item) {
				result = false
				break
			}
		}
		// An empty AND group is invalid and rejected at save time; if
		// one slips through it fails closed here.
		if len(group.Children) == 0 {
			result = false
		}
	case models.LogicalOr:
		result = false
		for _, child := range group.Children {
			if e.evalNode(child, item) {
				result = true
				break
			}
		}
	default:
		logging.Warn().Str("op", string(group.LogicalOp)).Msg("Unknown logical operator in criteria tree")
		result = false
	}

	if group.Negate {
		return !result
	}
	return result
}

func (e *Engine) evalNode(node models.ConditionNode, item *models.ContentItem) bool {
	switch {
	case node.Group != nil:
		return e.evalGroup(node.Group, item)
	case node.Condition != nil:
		result := e.evalLeaf(*node.Condition, item)
		if node.Condition.Negate {
			return !result
		}
		return result
	default:
		logging.Warn().Msg("Empty condition node in criteria tree")
		return false
	}
}

// evalLeaf routes a leaf to the evaluator owning its field. Unknown
// fields fail closed with a warning so a rule referencing a field
// nobody owns silently stops matching rather than crashing the engine.
func (e *Engine) evalLeaf(cond models.Condition, item *models.ContentItem) bool {
	for i := range e.evaluators {
		ev := &e.evaluators[i]
		if !ev.OwnsField(cond.Field) {
			continue
		}
		if ev.CanEvaluate != nil && !ev.CanEvaluate(item) {
			logging.Debug().
				Str("evaluator", ev.Name).
				Str("field", cond.Field).
				Str("guid", item.GUID).
				Msg("Item lacks metadata for evaluator precondition")
			return false
		}
		return ev.EvaluateCondition(cond, item)
	}

	metrics.RoutingUnknownFieldsTotal.Inc()
	logging.Warn().Str("field", cond.Field).Msg("No evaluator owns condition field, failing closed")
	return false
}

// primaryEvaluator names the highest-priority evaluator owning any
// field of the tree, for decision metrics.
func (e *Engine) primaryEvaluator(group *models.ConditionGroup) string {
	fields := group.Fields()
	for i := range e.evaluators {
		ev := &e.evaluators[i]
		for _, f := range fields {
			if ev.OwnsField(f) {
				return ev.Name
			}
		}
	}
	return ""
}

// warnInvalidValue logs an unusable condition value. Set-valued
// operators reject empty sets so a misconfigured empty array cannot
// silently match everything or nothing.
func warnInvalidValue(evaluator string, cond models.Condition) bool {
	logging.Warn().
		Str("evaluator", evaluator).
		Str("field", cond.Field).
		Str("operator", cond.Operator).
		Msg("Condition value is empty or uncoercible, failing closed")
	return false
}
