// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

// Package plex implements the catalog client against the Plex discover
// API: watchlist listing with cursor paging and per-item metadata
// lookup. Requests are paced per token; HTTP 429 surfaces as a typed
// RateLimitError so the enrichment throttle can react, and upstream
// outages surface through a circuit breaker.
package plex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/jamcalli/Pulsarr-sub006/internal/config"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

// watchlistPageSize is the container size requested per watchlist page.
const watchlistPageSize = 100

// Client talks to the Plex discover and metadata endpoints.
type Client struct {
	baseURL     string
	metadataURL string
	token       string
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// NewClient creates a catalog client from configuration.
func NewClient(cfg *config.PlexConfig) *Client {
	metadataURL := cfg.MetadataURL
	if metadataURL == "" {
		metadataURL = cfg.URL
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		metadataURL: strings.TrimRight(metadataURL, "/"),
		token:       cfg.Token,
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// RawMetadata is the result of a metadata lookup, before it is shaped
// into a models.ContentItem by the enrichment stage.
type RawMetadata struct {
	Title            string
	Type             models.ContentType
	ExternalIDs      []string
	Genres           []string
	OriginalLanguage string
	ArtworkRef       string
	Year             int
	Certification    string
	WatchProviders   map[int]string
}

// Wire structures. The discover API wraps everything in a MediaContainer
// and reports tags and external GUIDs as arrays of {id}/{tag} objects.

type mediaContainerResponse struct {
	MediaContainer mediaContainer `json:"MediaContainer"`
}

type mediaContainer struct {
	Size      int             `json:"size"`
	TotalSize int             `json:"totalSize"`
	Offset    int             `json:"offset"`
	Metadata  []metadataEntry `json:"Metadata"`
}

type metadataEntry struct {
	RatingKey        string         `json:"ratingKey"`
	GUID             string         `json:"guid"`
	Title            string         `json:"title"`
	Type             string         `json:"type"`
	Thumb            string         `json:"thumb,omitempty"`
	Year             int            `json:"year,omitempty"`
	ContentRating    string         `json:"contentRating,omitempty"`
	OriginalLanguage string         `json:"originalLanguage,omitempty"`
	Guid             []guidRef      `json:"Guid,omitempty"`
	Genre            []tagRef       `json:"Genre,omitempty"`
	Availability     []availability `json:"Availability,omitempty"`
}

type guidRef struct {
	ID string `json:"id"` // "tmdb://123"
}

type tagRef struct {
	Tag string `json:"tag"`
}

type availability struct {
	ProviderID int    `json:"providerId"`
	Offering   string `json:"offeringType"` // "flatrate", "rent", "buy"
}

// ListWatchlist returns one page of a user's watchlist as sparse
// content items (guid, title, type, artwork, genres). The returned
// cursor is passed back to fetch the next page; an empty cursor means
// the listing is complete.
func (c *Client) ListWatchlist(ctx context.Context, user, cursor string) ([]models.ContentItem, string, error) {
	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid watchlist cursor %q: %w", cursor, err)
		}
		offset = parsed
	}

	query := url.Values{}
	query.Set("X-Plex-Container-Start", strconv.Itoa(offset))
	query.Set("X-Plex-Container-Size", strconv.Itoa(watchlistPageSize))
	query.Set("includeFields", "title,type,thumb,guid")

	var resp mediaContainerResponse
	err := c.doRequest(ctx, requestConfig{
		method: http.MethodGet,
		base:   c.baseURL,
		path:   "/library/sections/watchlist/all",
		query:  query,
	}, &resp)
	if err != nil {
		return nil, "", err
	}

	items := make([]models.ContentItem, 0, len(resp.MediaContainer.Metadata))
	for _, entry := range resp.MediaContainer.Metadata {
		ct, ok := contentTypeFor(entry.Type)
		if !ok {
			continue
		}
		items = append(items, models.ContentItem{
			GUID:        entry.GUID,
			Title:       entry.Title,
			ContentType: ct,
			User:        user,
			ArtworkRef:  entry.Thumb,
			Genres:      dedupeTags(entry.Genre),
		})
	}

	next := ""
	if fetched := offset + len(resp.MediaContainer.Metadata); fetched < resp.MediaContainer.TotalSize && len(resp.MediaContainer.Metadata) > 0 {
		next = strconv.Itoa(fetched)
	}
	return items, next, nil
}

// LookupMetadata resolves a bare watchlist reference ("plex://movie/…")
// into full metadata. Returns ErrNotFound, *RateLimitError or
// *TransientError on failure.
func (c *Client) LookupMetadata(ctx context.Context, ref string) (*RawMetadata, error) {
	key, err := metadataKey(ref)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("includeGuids", "1")
	query.Set("includeAvailabilities", "1")

	var resp mediaContainerResponse
	err = c.doRequest(ctx, requestConfig{
		method: http.MethodGet,
		base:   c.metadataURL,
		path:   "/library/metadata/" + key,
		query:  query,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.MediaContainer.Metadata) == 0 {
		return nil, ErrNotFound
	}

	entry := resp.MediaContainer.Metadata[0]
	ct, ok := contentTypeFor(entry.Type)
	if !ok {
		return nil, fmt.Errorf("plex: unsupported content type %q for %s", entry.Type, ref)
	}

	meta := &RawMetadata{
		Title:            entry.Title,
		Type:             ct,
		ExternalIDs:      externalIDs(entry.Guid),
		Genres:           dedupeTags(entry.Genre),
		OriginalLanguage: entry.OriginalLanguage,
		ArtworkRef:       entry.Thumb,
		Year:             entry.Year,
		Certification:    entry.ContentRating,
	}
	if len(entry.Availability) > 0 {
		meta.WatchProviders = make(map[int]string, len(entry.Availability))
		for _, a := range entry.Availability {
			meta.WatchProviders[a.ProviderID] = a.Offering
		}
	}
	return meta, nil
}

// metadataKey extracts the opaque metadata key from a plex:// guid.
func metadataKey(ref string) (string, error) {
	trimmed, ok := strings.CutPrefix(ref, "plex://")
	if !ok {
		return "", fmt.Errorf("plex: reference %q is not a plex:// guid", ref)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("plex: reference %q has no metadata key", ref)
	}
	return parts[1], nil
}

// contentTypeFor maps a Plex media type to the router's content types.
// Music, clips and other types are not routable.
func contentTypeFor(plexType string) (models.ContentType, bool) {
	switch plexType {
	case "movie":
		return models.ContentTypeMovie, true
	case "show":
		return models.ContentTypeShow, true
	default:
		return "", false
	}
}

// externalIDs converts "tmdb://123" GUID refs to "tmdb:123" identifiers.
func externalIDs(refs []guidRef) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		id := strings.Replace(ref.ID, "://", ":", 1)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// dedupeTags flattens tag refs into an ordered, deduplicated slice.
func dedupeTags(tags []tagRef) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		if t.Tag == "" || seen[t.Tag] {
			continue
		}
		seen[t.Tag] = true
		out = append(out, t.Tag)
	}
	return out
}

// requestConfig holds configuration for building catalog requests.
type requestConfig struct {
	method string
	base   string
	path   string
	query  url.Values
}

// doRequest executes a catalog request and decodes the JSON response.
// Status codes map onto the error taxonomy: 404 is ErrNotFound, 429 is
// *RateLimitError (honoring Retry-After), 5xx and network failures are
// *TransientError.
func (c *Client) doRequest(ctx context.Context, cfg requestConfig, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, cfg.method, cfg.base+cfg.path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/json")
	if len(cfg.query) > 0 {
		req.URL.RawQuery = cfg.query.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return &TransientError{Err: fmt.Errorf("upstream status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("plex: unexpected status %d %s", resp.StatusCode, resp.Status)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// retryAfter parses the Retry-After header (RFC 6585) as integer seconds.
func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
