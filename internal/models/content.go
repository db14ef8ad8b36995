// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package models

// ContentType identifies the media kind of a watchlist item.
type ContentType string

// Supported content types. Everything else on a watchlist (music, clips)
// is ignored by the router.
const (
	ContentTypeMovie ContentType = "movie"
	ContentTypeShow  ContentType = "show"
)

// TargetKind identifies a downstream acquisition family.
type TargetKind string

// Downstream instance families.
const (
	TargetRadarr TargetKind = "radarr"
	TargetSonarr TargetKind = "sonarr"
)

// TargetFor maps a content type to the instance family that handles it.
func TargetFor(ct ContentType) TargetKind {
	if ct == ContentTypeShow {
		return TargetSonarr
	}
	return TargetRadarr
}

// ContentItem is a fully enriched watchlist entry. It is immutable once
// built by the enrichment stage: a later poll that detects a change
// produces a replacement value, never a patch.
type ContentItem struct {
	// GUID is the opaque catalog reference (primary key within a user's
	// watchlist, e.g. "plex://movie/5d776825880197001ec90e8a").
	GUID string `json:"guid"`

	Title       string      `json:"title"`
	ContentType ContentType `json:"type"`

	// User is the watchlist owner the item was polled from.
	User string `json:"user,omitempty"`

	// ExternalIDs holds provider-qualified identifiers ("tmdb:123",
	// "tvdb:456", "imdb:tt0111161"). Treated as a set.
	ExternalIDs []string `json:"externalIds,omitempty"`

	// Genres is ordered and deduplicated.
	Genres []string `json:"genres,omitempty"`

	OriginalLanguage string `json:"originalLanguage,omitempty"`
	ArtworkRef       string `json:"artworkRef,omitempty"`
	Year             int    `json:"year,omitempty"`
	Certification    string `json:"certification,omitempty"`

	// WatchProviders maps a streaming provider ID to its availability
	// tier ("flatrate", "rent", "buy"). Nil when the catalog reported
	// no availability data.
	WatchProviders map[int]string `json:"watchProviders,omitempty"`
}

// HasExternalIDs reports whether enrichment resolved at least one
// provider identifier. Items without identifiers cannot be dispatched
// to an acquisition instance.
func (c *ContentItem) HasExternalIDs() bool {
	return len(c.ExternalIDs) > 0
}

// ChangeRecord is the unit of work produced by a diff cycle. Previous is
// nil for items new to the watchlist.
type ChangeRecord struct {
	GUID     string       `json:"guid"`
	Previous *ContentItem `json:"previous,omitempty"`
	Current  *ContentItem `json:"current"`
}
