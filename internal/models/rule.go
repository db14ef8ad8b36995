// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package models

// RoutingRule pairs a criteria tree with the acquisition parameters to
// apply when it matches. Rules are evaluated in descending Priority
// order; ordering affects presentation only, every applicable rule is
// always evaluated.
type RoutingRule struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Priority orders matched decisions, highest first.
	Priority int `json:"priority"`

	// TargetType selects the instance family (radarr or sonarr) the
	// rule routes to. Movie items only consult radarr rules, show items
	// only sonarr rules.
	TargetType TargetKind `json:"targetType"`

	TargetInstanceID int `json:"targetInstanceId"`

	CriteriaTree *ConditionGroup `json:"criteriaTree"`

	QualityProfile string `json:"qualityProfile,omitempty"`
	RootFolder     string `json:"rootFolder,omitempty"`

	Enabled bool `json:"enabled"`
}

// RoutingDecision is the pure output of the routing engine. Decisions
// are never persisted; they are recomputed from rules every time,
// including when a deferred task is finally delivered.
type RoutingDecision struct {
	InstanceID     int        `json:"instanceId"`
	TargetType     TargetKind `json:"targetType"`
	QualityProfile string     `json:"qualityProfile,omitempty"`
	RootFolder     string     `json:"rootFolder,omitempty"`
	Priority       int        `json:"priority"`
	RuleID         string     `json:"ruleId,omitempty"`
}

// Instance describes one downstream acquisition service instance.
type Instance struct {
	ID   int        `json:"id"`
	Name string     `json:"name"`
	Kind TargetKind `json:"kind"`
	URL  string     `json:"url"`

	// Defaults applied when a matching rule does not set its own.
	QualityProfile string `json:"qualityProfile,omitempty"`
	RootFolder     string `json:"rootFolder,omitempty"`
}
