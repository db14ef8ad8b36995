// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

// Package models defines the shared domain types: enriched watchlist
// items, criteria trees, routing rules and decisions, and deferred
// delivery tasks. The package has no dependencies on the pipeline
// packages so any layer can import it.
package models
