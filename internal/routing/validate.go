// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package routing

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

// Rule-save validation errors.
var (
	ErrUnknownField    = errors.New("routing: condition field not owned by any evaluator")
	ErrUnknownInstance = errors.New("routing: rule targets a nonexistent instance")
	ErrMissingCriteria = errors.New("routing: rule has no criteria tree")
)

// ruleShape mirrors the struct-tag constraints of a rule for
// validator/v10. The tree itself needs recursive checks the tag
// language cannot express, so those run separately below.
type ruleShape struct {
	Name       string            `validate:"required"`
	TargetType models.TargetKind `validate:"oneof=radarr sonarr"`
	Priority   int               `validate:"gte=0,lte=1000"`
}

var ruleValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateRule checks a rule at save time: struct shape, structural
// tree invariants (an empty children list is rejected here, never at
// evaluation time), field ownership against the registered evaluators,
// and target instance existence. instanceExists may be nil when the
// caller cannot resolve instances (rule preview).
func (e *Engine) ValidateRule(rule *models.RoutingRule, instanceExists func(kind models.TargetKind, id int) bool) error {
	shape := ruleShape{
		Name:       rule.Name,
		TargetType: rule.TargetType,
		Priority:   rule.Priority,
	}
	if err := ruleValidator.Struct(shape); err != nil {
		return fmt.Errorf("routing: rule %q: %w", rule.Name, err)
	}

	if rule.CriteriaTree == nil {
		return fmt.Errorf("%w: %q", ErrMissingCriteria, rule.Name)
	}
	if err := rule.CriteriaTree.Validate(); err != nil {
		return fmt.Errorf("routing: rule %q: %w", rule.Name, err)
	}

	for _, field := range rule.CriteriaTree.Fields() {
		if !e.fieldOwned(field) {
			return fmt.Errorf("%w: %q", ErrUnknownField, field)
		}
	}

	if instanceExists != nil && !instanceExists(rule.TargetType, rule.TargetInstanceID) {
		return fmt.Errorf("%w: %s/%d", ErrUnknownInstance, rule.TargetType, rule.TargetInstanceID)
	}

	return nil
}

func (e *Engine) fieldOwned(field string) bool {
	for i := range e.evaluators {
		if e.evaluators[i].OwnsField(field) {
			return true
		}
	}
	return false
}
