// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

// Package diff compares two watchlist snapshots and produces the set of
// added and modified entries. The detector is pure and stateless; the
// workflow coordinator owns snapshot lifetime.
package diff

import (
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
	"github.com/jamcalli/Pulsarr-sub006/internal/metrics"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

// Snapshot maps watchlist guid to its (possibly sparse) content item.
type Snapshot map[string]*models.ContentItem

// Changes compares the previous and current snapshots. An entry changes
// when its guid is new, or when any of title, content type, artwork ref
// or genres differs by value. Entries present only in previous are
// logged as removals and produce no record; removal handling is a
// downstream concern.
//
// Changes(S, S) is empty for any snapshot S.
func Changes(previous, current Snapshot) []models.ChangeRecord {
	var records []models.ChangeRecord

	for guid, cur := range current {
		prev, ok := previous[guid]
		if !ok {
			records = append(records, models.ChangeRecord{GUID: guid, Current: cur})
			metrics.SyncItemsChanged.WithLabelValues("added").Inc()
			continue
		}
		if itemChanged(prev, cur) {
			records = append(records, models.ChangeRecord{GUID: guid, Previous: prev, Current: cur})
			metrics.SyncItemsChanged.WithLabelValues("modified").Inc()
		}
	}

	removed := 0
	for guid := range previous {
		if _, ok := current[guid]; !ok {
			removed++
			logging.Debug().Str("guid", guid).Msg("Watchlist entry removed")
		}
	}
	if removed > 0 {
		metrics.SyncItemsChanged.WithLabelValues("removed").Add(float64(removed))
		logging.Info().Int("count", removed).Msg("Watchlist entries removed since last poll")
	}

	// Deterministic order keeps downstream logs and tests stable.
	sort.Slice(records, func(i, j int) bool { return records[i].GUID < records[j].GUID })
	return records
}

// itemChanged compares the fields the watchlist listing itself carries.
// Enrichment-only fields (external IDs, language, providers) are
// excluded: they change when we re-enrich, not when the user edits
// their watchlist.
func itemChanged(prev, cur *models.ContentItem) bool {
	if prev.Title != cur.Title {
		return true
	}
	if prev.ContentType != cur.ContentType {
		return true
	}
	if prev.ArtworkRef != cur.ArtworkRef {
		return true
	}
	return !genresEqual(prev.Genres, cur.Genres)
}

// genresEqual compares genres as sets via serialized equality, so
// ordering differences between polls do not count as changes.
func genresEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	return genreKey(a) == genreKey(b)
}

func genreKey(genres []string) string {
	normalized := make([]string, len(genres))
	for i, g := range genres {
		normalized[i] = strings.ToLower(g)
	}
	sort.Strings(normalized)
	key, err := json.Marshal(normalized)
	if err != nil {
		// Slices of strings cannot fail to marshal; keep the differ total anyway.
		return strings.Join(normalized, "\x00")
	}
	return string(key)
}
