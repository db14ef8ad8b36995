// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

// Package delivery dispatches routing decisions to downstream Radarr
// and Sonarr instances and defers work for unhealthy targets in a
// persistent queue. Deferred tasks carry item references only; routing
// decisions are recomputed when the task is finally delivered.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/jamcalli/Pulsarr-sub006/internal/config"
	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

// ErrNoInstance reports a decision targeting an instance ID the family
// does not have.
var ErrNoInstance = errors.New("delivery: no such instance")

// ErrPermanent wraps a downstream 4xx rejection. Not retried and not
// deferred; the item is logged and skipped.
var ErrPermanent = errors.New("delivery: permanent rejection")

// Manager abstracts one acquisition family. The dispatcher and drain
// loop only need instance lookup, a health verdict, and dispatch.
type Manager interface {
	Kind() models.TargetKind
	Instances() []models.Instance
	Healthy(ctx context.Context) bool
	Dispatch(ctx context.Context, item *models.ContentItem, decision models.RoutingDecision) error
}

// healthTTL caches family health probes so a burst of deliveries does
// not hammer every instance's status endpoint.
const healthTTL = 5 * time.Second

// ArrManager drives one family of Radarr or Sonarr instances over
// their v3 HTTP API.
type ArrManager struct {
	kind       models.TargetKind
	instances  []models.Instance
	apiKeys    map[int]string
	httpClient *http.Client

	mu         sync.Mutex
	healthy    bool
	lastProbe  time.Time
	probedOnce bool
}

// NewArrManager builds a manager from the configured instances of one
// family.
func NewArrManager(kind models.TargetKind, cfg config.FamilyConfig, timeout time.Duration) *ArrManager {
	m := &ArrManager{
		kind:       kind,
		apiKeys:    make(map[int]string, len(cfg.Instances)),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, inst := range cfg.Instances {
		m.instances = append(m.instances, models.Instance{
			ID:             inst.ID,
			Name:           inst.Name,
			Kind:           kind,
			URL:            strings.TrimRight(inst.URL, "/"),
			QualityProfile: inst.QualityProfile,
			RootFolder:     inst.RootFolder,
		})
		m.apiKeys[inst.ID] = inst.APIKey
	}
	return m
}

// Kind returns the instance family this manager drives.
func (m *ArrManager) Kind() models.TargetKind { return m.kind }

// Instances returns the configured instances.
func (m *ArrManager) Instances() []models.Instance { return m.instances }

// Instance looks up a configured instance by ID.
func (m *ArrManager) Instance(id int) (models.Instance, bool) {
	for _, inst := range m.instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return models.Instance{}, false
}

// Healthy reports whether every configured instance answers its status
// endpoint. The verdict is cached briefly; an empty family is always
// unhealthy so its work is deferred rather than dropped.
func (m *ArrManager) Healthy(ctx context.Context) bool {
	m.mu.Lock()
	if m.probedOnce && time.Since(m.lastProbe) < healthTTL {
		h := m.healthy
		m.mu.Unlock()
		return h
	}
	m.mu.Unlock()

	healthy := len(m.instances) > 0
	for _, inst := range m.instances {
		if err := m.probe(ctx, inst); err != nil {
			logging.Debug().
				Str("family", string(m.kind)).
				Str("instance", inst.Name).
				Err(err).
				Msg("Instance health probe failed")
			healthy = false
			break
		}
	}

	m.mu.Lock()
	m.healthy = healthy
	m.lastProbe = time.Now()
	m.probedOnce = true
	m.mu.Unlock()
	return healthy
}

func (m *ArrManager) probe(ctx context.Context, inst models.Instance) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inst.URL+"/api/v3/system/status", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", m.apiKeys[inst.ID])

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// addMoviePayload is the Radarr v3 add-movie request body.
type addMoviePayload struct {
	Title          string          `json:"title"`
	TmdbID         int             `json:"tmdbId"`
	QualityProfile string          `json:"qualityProfile,omitempty"`
	RootFolderPath string          `json:"rootFolderPath,omitempty"`
	Monitored      bool            `json:"monitored"`
	AddOptions     movieAddOptions `json:"addOptions"`
}

type movieAddOptions struct {
	SearchForMovie bool `json:"searchForMovie"`
}

// addSeriesPayload is the Sonarr v3 add-series request body.
type addSeriesPayload struct {
	Title          string           `json:"title"`
	TvdbID         int              `json:"tvdbId"`
	QualityProfile string           `json:"qualityProfile,omitempty"`
	RootFolderPath string           `json:"rootFolderPath,omitempty"`
	Monitored      bool             `json:"monitored"`
	AddOptions     seriesAddOptions `json:"addOptions"`
}

type seriesAddOptions struct {
	SearchForMissingEpisodes bool `json:"searchForMissingEpisodes"`
}

// Dispatch sends one item to the instance named by the decision. The
// decision's quality profile and root folder override the instance
// defaults when set. A 4xx other than conflict is permanent; conflict
// means the instance already has the item and counts as success.
func (m *ArrManager) Dispatch(ctx context.Context, item *models.ContentItem, decision models.RoutingDecision) error {
	inst, ok := m.Instance(decision.InstanceID)
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrNoInstance, m.kind, decision.InstanceID)
	}

	profile := decision.QualityProfile
	if profile == "" {
		profile = inst.QualityProfile
	}
	folder := decision.RootFolder
	if folder == "" {
		folder = inst.RootFolder
	}

	var path string
	var payload any
	switch m.kind {
	case models.TargetRadarr:
		id, ok := ExternalID(item, "tmdb")
		if !ok {
			return fmt.Errorf("%w: %s has no tmdb id", ErrPermanent, item.GUID)
		}
		path = "/api/v3/movie"
		payload = addMoviePayload{
			Title:          item.Title,
			TmdbID:         id,
			QualityProfile: profile,
			RootFolderPath: folder,
			Monitored:      true,
			AddOptions:     movieAddOptions{SearchForMovie: true},
		}
	case models.TargetSonarr:
		id, ok := ExternalID(item, "tvdb")
		if !ok {
			return fmt.Errorf("%w: %s has no tvdb id", ErrPermanent, item.GUID)
		}
		path = "/api/v3/series"
		payload = addSeriesPayload{
			Title:          item.Title,
			TvdbID:         id,
			QualityProfile: profile,
			RootFolderPath: folder,
			Monitored:      true,
			AddOptions:     seriesAddOptions{SearchForMissingEpisodes: true},
		}
	default:
		return fmt.Errorf("delivery: unknown family %q", m.kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("delivery: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inst.URL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("delivery: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", m.apiKeys[inst.ID])

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delivery: %s %s: %w", m.kind, inst.Name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		logging.Info().
			Str("family", string(m.kind)).
			Str("instance", inst.Name).
			Str("title", item.Title).
			Str("rule", decision.RuleID).
			Msg("Item dispatched")
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already in the library; treat as delivered.
		logging.Debug().
			Str("instance", inst.Name).
			Str("title", item.Title).
			Msg("Instance already has item")
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s returned %d for %s", ErrPermanent, inst.Name, resp.StatusCode, item.Title)
	default:
		return fmt.Errorf("delivery: %s returned %d for %s", inst.Name, resp.StatusCode, item.Title)
	}
}

// ExternalID extracts a numeric provider identifier ("tmdb:123") from
// an item's external ID set.
func ExternalID(item *models.ContentItem, provider string) (int, bool) {
	prefix := provider + ":"
	for _, id := range item.ExternalIDs {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
		if err == nil {
			return n, true
		}
	}
	return 0, false
}
