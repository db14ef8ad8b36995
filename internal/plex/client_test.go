// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package plex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/jamcalli/Pulsarr-sub006/internal/config"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

func testClientConfig(url string) *config.PlexConfig {
	return &config.PlexConfig{
		Token:             "test-token",
		URL:               url,
		RequestsPerSecond: 1000,
		Burst:             1000,
		RequestTimeout:    5 * time.Second,
	}
}

func TestClient_ListWatchlist_Paging(t *testing.T) {
	total := 5
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Plex-Token"); got != "test-token" {
			t.Errorf("X-Plex-Token = %q, want test-token", got)
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("X-Plex-Container-Start"))

		// Two pages: 3 items then 2.
		count := 3
		if offset >= 3 {
			count = 2
		}
		w.Header().Set("Content-Type", "application/json")
		body := `{"MediaContainer":{"totalSize":` + strconv.Itoa(total) + `,"offset":` + strconv.Itoa(offset) + `,"Metadata":[`
		for i := 0; i < count; i++ {
			if i > 0 {
				body += ","
			}
			n := strconv.Itoa(offset + i)
			body += `{"guid":"plex://movie/` + n + `","title":"Movie ` + n + `","type":"movie","Genre":[{"tag":"Action"},{"tag":"Action"}]}`
		}
		body += `]}}`
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewClient(testClientConfig(srv.URL))
	ctx := context.Background()

	items, cursor, err := c.ListWatchlist(ctx, "alice", "")
	if err != nil {
		t.Fatalf("ListWatchlist() error = %v", err)
	}
	if len(items) != 3 || cursor != "3" {
		t.Fatalf("page 1: %d items, cursor %q; want 3 items, cursor 3", len(items), cursor)
	}
	if items[0].User != "alice" {
		t.Errorf("User = %q, want alice", items[0].User)
	}
	if len(items[0].Genres) != 1 {
		t.Errorf("Genres = %v, want deduplicated to one entry", items[0].Genres)
	}

	items, cursor, err = c.ListWatchlist(ctx, "alice", cursor)
	if err != nil {
		t.Fatalf("ListWatchlist() page 2 error = %v", err)
	}
	if len(items) != 2 || cursor != "" {
		t.Fatalf("page 2: %d items, cursor %q; want 2 items, empty cursor", len(items), cursor)
	}
}

func TestClient_ListWatchlist_SkipsUnroutableTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"MediaContainer":{"totalSize":3,"Metadata":[
			{"guid":"plex://movie/1","title":"A Movie","type":"movie"},
			{"guid":"plex://album/2","title":"An Album","type":"album"},
			{"guid":"plex://show/3","title":"A Show","type":"show"}
		]}}`))
	}))
	defer srv.Close()

	c := NewClient(testClientConfig(srv.URL))
	items, _, err := c.ListWatchlist(context.Background(), "", "")
	if err != nil {
		t.Fatalf("ListWatchlist() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (album skipped)", len(items))
	}
	if items[1].ContentType != models.ContentTypeShow {
		t.Errorf("ContentType = %q, want show", items[1].ContentType)
	}
}

func TestClient_LookupMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/library/metadata/abc123" {
			t.Errorf("path = %q, want /library/metadata/abc123", r.URL.Path)
		}
		w.Write([]byte(`{"MediaContainer":{"Metadata":[{
			"guid":"plex://movie/abc123",
			"title":"Redline",
			"type":"movie",
			"year":2009,
			"contentRating":"PG-13",
			"originalLanguage":"ja",
			"Guid":[{"id":"tmdb://44103"},{"id":"imdb://tt1483797"}],
			"Genre":[{"tag":"Anime"},{"tag":"Action"}],
			"Availability":[{"providerId":337,"offeringType":"flatrate"}]
		}]}}`))
	}))
	defer srv.Close()

	c := NewClient(testClientConfig(srv.URL))
	meta, err := c.LookupMetadata(context.Background(), "plex://movie/abc123")
	if err != nil {
		t.Fatalf("LookupMetadata() error = %v", err)
	}

	if meta.Title != "Redline" || meta.Year != 2009 || meta.Certification != "PG-13" {
		t.Errorf("meta = %+v, fields not mapped", meta)
	}
	wantIDs := []string{"tmdb:44103", "imdb:tt1483797"}
	if len(meta.ExternalIDs) != 2 || meta.ExternalIDs[0] != wantIDs[0] || meta.ExternalIDs[1] != wantIDs[1] {
		t.Errorf("ExternalIDs = %v, want %v", meta.ExternalIDs, wantIDs)
	}
	if meta.WatchProviders[337] != "flatrate" {
		t.Errorf("WatchProviders = %v, want provider 337 flatrate", meta.WatchProviders)
	}
}

func TestClient_LookupMetadata_BadRef(t *testing.T) {
	c := NewClient(testClientConfig("http://localhost:0"))
	tests := []string{"abc123", "plex://", "plex://movie", "plex://movie/"}
	for _, ref := range tests {
		if _, err := c.LookupMetadata(context.Background(), ref); err == nil {
			t.Errorf("LookupMetadata(%q) = nil error, want parse failure", ref)
		}
	}
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	var status int
	var retryAfterHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if retryAfterHeader != "" {
			w.Header().Set("Retry-After", retryAfterHeader)
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := NewClient(testClientConfig(srv.URL))
	ctx := context.Background()

	status = http.StatusNotFound
	_, err := c.LookupMetadata(ctx, "plex://movie/x")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("404: err = %v, want ErrNotFound", err)
	}

	status = http.StatusTooManyRequests
	retryAfterHeader = "7"
	_, err = c.LookupMetadata(ctx, "plex://movie/x")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("429: err = %v, want RateLimitError", err)
	}
	if rle.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", rle.RetryAfter)
	}

	status = http.StatusInternalServerError
	retryAfterHeader = ""
	_, err = c.LookupMetadata(ctx, "plex://movie/x")
	if !IsTransient(err) {
		t.Errorf("500: err = %v, want TransientError", err)
	}
}

func TestRetryAfterParsing(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"-5", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		resp := &http.Response{Header: http.Header{}}
		if tt.header != "" {
			resp.Header.Set("Retry-After", tt.header)
		}
		if got := retryAfter(resp); got != tt.want {
			t.Errorf("retryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
