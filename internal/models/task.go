// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package models

import "time"

// DeferredTask holds routing work that could not be delivered because
// the target instance family was unhealthy. Tasks carry item references,
// not decisions: decisions are recomputed at delivery time so a task
// delivered hours later still reflects the current rule set.
type DeferredTask struct {
	TaskID     string     `json:"taskId"`
	CreatedAt  time.Time  `json:"createdAt"`
	ItemRefs   []string   `json:"itemRefs"`
	User       string     `json:"user,omitempty"`
	TargetKind TargetKind `json:"targetKind"`

	// AttemptCount is the only mutable field; it increments on each
	// failed delivery attempt.
	AttemptCount int `json:"attemptCount"`

	LastError string `json:"lastError,omitempty"`
}

// Age returns how long the task has been queued, relative to now.
func (t *DeferredTask) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}
