// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package models

import (
	"errors"
	"fmt"
)

// LogicalOp combines the children of a ConditionGroup.
type LogicalOp string

// Supported logical operators.
const (
	LogicalAnd LogicalOp = "and"
	LogicalOr  LogicalOp = "or"
)

// Condition is a leaf node of a criteria tree. Field names are owned by
// exactly one registered evaluator; Operator semantics are
// evaluator-specific (in/notIn over sets, equals/contains over strings,
// numeric comparison for year fields).
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
	Negate   bool   `json:"negate,omitempty"`
}

// ConditionGroup is an interior node of a criteria tree. Negate flips the
// combined result of the group, after AND/OR combination.
type ConditionGroup struct {
	LogicalOp LogicalOp       `json:"logicalOp"`
	Children  []ConditionNode `json:"children"`
	Negate    bool            `json:"negate,omitempty"`
}

// ConditionNode is the tagged union of the two tree variants. Exactly one
// of Condition or Group must be set; both validation and evaluation
// treat any other shape as invalid.
type ConditionNode struct {
	Condition *Condition      `json:"condition,omitempty"`
	Group     *ConditionGroup `json:"group,omitempty"`
}

// Leaf wraps a Condition into a node.
func Leaf(c Condition) ConditionNode {
	return ConditionNode{Condition: &c}
}

// Subgroup wraps a ConditionGroup into a node.
func Subgroup(g ConditionGroup) ConditionNode {
	return ConditionNode{Group: &g}
}

// Tree-shape validation errors, reported at rule-save time.
var (
	ErrEmptyGroup       = errors.New("condition group has no children")
	ErrAmbiguousNode    = errors.New("condition node must hold exactly one of condition or group")
	ErrInvalidLogicalOp = errors.New("condition group logical operator must be and/or")
	ErrMissingField     = errors.New("condition field is empty")
	ErrMissingOperator  = errors.New("condition operator is empty")
)

// Validate checks the structural invariants of the tree: non-empty
// children at every level, exactly one variant per node, known logical
// operators, and non-empty field/operator on every leaf. Field ownership
// is checked separately by the routing engine, which knows the
// registered evaluators.
func (g *ConditionGroup) Validate() error {
	if g.LogicalOp != LogicalAnd && g.LogicalOp != LogicalOr {
		return fmt.Errorf("%w: %q", ErrInvalidLogicalOp, g.LogicalOp)
	}
	if len(g.Children) == 0 {
		return ErrEmptyGroup
	}
	for i, child := range g.Children {
		if err := child.Validate(); err != nil {
			return fmt.Errorf("child %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks a single node and recurses into subgroups.
func (n ConditionNode) Validate() error {
	switch {
	case n.Condition != nil && n.Group != nil:
		return ErrAmbiguousNode
	case n.Condition != nil:
		if n.Condition.Field == "" {
			return ErrMissingField
		}
		if n.Condition.Operator == "" {
			return ErrMissingOperator
		}
		return nil
	case n.Group != nil:
		return n.Group.Validate()
	default:
		return ErrAmbiguousNode
	}
}

// Fields returns every leaf field referenced by the tree, in traversal
// order with duplicates preserved.
func (g *ConditionGroup) Fields() []string {
	var out []string
	for _, child := range g.Children {
		switch {
		case child.Condition != nil:
			out = append(out, child.Condition.Field)
		case child.Group != nil:
			out = append(out, child.Group.Fields()...)
		}
	}
	return out
}
