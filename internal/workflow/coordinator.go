// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

// Package workflow runs the poll/diff/enrich/route pipeline on two
// timer loops: a short poll cadence for change detection and a slower
// idle flush that forces a full resync once the watchlists have been
// quiet for a while. Cycles are single-flight; a tick that lands while
// a cycle is running is skipped, not queued.
package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jamcalli/Pulsarr-sub006/internal/config"
	"github.com/jamcalli/Pulsarr-sub006/internal/delivery"
	"github.com/jamcalli/Pulsarr-sub006/internal/diff"
	"github.com/jamcalli/Pulsarr-sub006/internal/enrich"
	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
	"github.com/jamcalli/Pulsarr-sub006/internal/metrics"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
	"github.com/jamcalli/Pulsarr-sub006/internal/plex"
	"github.com/jamcalli/Pulsarr-sub006/internal/routing"
	"github.com/jamcalli/Pulsarr-sub006/internal/store"
)

// Catalog is the watchlist listing surface the coordinator consumes.
type Catalog interface {
	ListWatchlist(ctx context.Context, user, cursor string) ([]models.ContentItem, string, error)
}

// HealthSource reports whether the upstream catalog path is degraded.
type HealthSource interface {
	Open() bool
}

// DegradedSink receives degraded-mode transitions.
type DegradedSink interface {
	SyncDegraded(degraded bool, reason string)
}

// Status is the coordinator's externally visible state.
type Status struct {
	Degraded   bool      `json:"degraded"`
	Refreshing bool      `json:"refreshing"`
	LastSync   time.Time `json:"lastSync"`
	LastChange time.Time `json:"lastChange"`
	LastError  string    `json:"lastError,omitempty"`
}

// Coordinator owns snapshot lifetime and drives the pipeline stages.
type Coordinator struct {
	cfg        config.SyncConfig
	users      []string
	catalog    Catalog
	health     HealthSource
	fetcher    *enrich.Fetcher
	engine     *routing.Engine
	dispatcher *delivery.Dispatcher
	store      *store.Store
	degradeTo  DegradedSink

	// refreshing is the single-flight guard: at most one cycle runs at
	// a time, across both timer loops and manual triggers.
	refreshing atomic.Bool

	mu         sync.Mutex
	snapshots  map[string]diff.Snapshot
	lastChange time.Time
	lastSync   time.Time
	lastError  string
	degraded   bool

	trigger chan struct{}
}

// New wires the coordinator. An empty user list polls the token owner
// under the empty-string key.
func New(
	cfg config.SyncConfig,
	users []string,
	catalog Catalog,
	health HealthSource,
	fetcher *enrich.Fetcher,
	engine *routing.Engine,
	dispatcher *delivery.Dispatcher,
	st *store.Store,
	degradeTo DegradedSink,
) *Coordinator {
	if len(users) == 0 {
		users = []string{""}
	}
	return &Coordinator{
		cfg:        cfg,
		users:      users,
		catalog:    catalog,
		health:     health,
		fetcher:    fetcher,
		engine:     engine,
		dispatcher: dispatcher,
		store:      st,
		degradeTo:  degradeTo,
		snapshots:  make(map[string]diff.Snapshot, len(users)),
		trigger:    make(chan struct{}, 1),
	}
}

// Seed loads persisted items into the in-memory snapshots so a restart
// does not re-route the entire watchlist as "added".
func (c *Coordinator) Seed(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, user := range c.users {
		items, err := c.store.GetItemsByUser(ctx, user)
		if err != nil {
			return err
		}
		snap := make(diff.Snapshot, len(items))
		for i := range items {
			snap[items[i].GUID] = &items[i]
		}
		c.snapshots[user] = snap
		total += len(items)
	}
	c.lastChange = time.Now()
	logging.Info().Int("items", total).Int("users", len(c.users)).Msg("Snapshots seeded from record store")
	return nil
}

// Serve runs both timer loops until the context is cancelled. Suitable
// for a suture supervisor.
func (c *Coordinator) Serve(ctx context.Context) error {
	logging.Info().
		Dur("poll_interval", c.cfg.PollInterval).
		Dur("idle_threshold", c.cfg.IdleThreshold).
		Msg("Workflow coordinator started")

	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()
	idle := time.NewTicker(c.cfg.IdleFlushInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			c.runCycle(ctx, "poll")
		case <-idle.C:
			c.mu.Lock()
			quiet := time.Since(c.lastChange)
			c.mu.Unlock()
			if quiet >= c.cfg.IdleThreshold {
				c.runCycle(ctx, "resync")
			}
		case <-c.trigger:
			c.runCycle(ctx, "poll")
		}
	}
}

// TriggerSync requests an immediate poll cycle. Non-blocking; a cycle
// already pending absorbs the request.
func (c *Coordinator) TriggerSync() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Status returns the current pipeline state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Degraded:   c.degraded,
		Refreshing: c.refreshing.Load(),
		LastSync:   c.lastSync,
		LastChange: c.lastChange,
		LastError:  c.lastError,
	}
}

// Decide recomputes routing decisions for one item against the current
// rule set. Shared with the deferred-delivery drain loop.
func (c *Coordinator) Decide(ctx context.Context, item *models.ContentItem) []models.RoutingDecision {
	rules, err := c.store.GetRules(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load routing rules")
		return nil
	}
	return c.engine.Evaluate(item, rules)
}

// runCycle executes one poll or resync cycle under the single-flight
// guard.
func (c *Coordinator) runCycle(ctx context.Context, kind string) {
	if !c.refreshing.CompareAndSwap(false, true) {
		metrics.SyncCyclesTotal.WithLabelValues(kind, "skipped").Inc()
		logging.Debug().Str("kind", kind).Msg("Sync cycle already running, skipping tick")
		return
	}
	defer c.refreshing.Store(false)

	start := time.Now()
	rules, err := c.store.GetRules(ctx)
	if err != nil {
		c.finishCycle(kind, err)
		return
	}

	var cycleErr error
	changed := 0
	for _, user := range c.users {
		if ctx.Err() != nil {
			cycleErr = ctx.Err()
			break
		}
		n, err := c.syncUser(ctx, user, rules, kind == "resync")
		changed += n
		if err != nil {
			logging.Error().Err(err).Str("user", user).Msg("Watchlist sync failed for user")
			cycleErr = err
		}
	}

	if changed > 0 {
		c.mu.Lock()
		c.lastChange = time.Now()
		c.mu.Unlock()
	}
	c.finishCycle(kind, cycleErr)
	logging.Debug().
		Str("kind", kind).
		Int("changed", changed).
		Dur("elapsed", time.Since(start)).
		Msg("Sync cycle finished")
}

func (c *Coordinator) finishCycle(kind string, err error) {
	c.mu.Lock()
	if err != nil {
		metrics.SyncCyclesTotal.WithLabelValues(kind, "error").Inc()
		c.lastError = err.Error()
	} else {
		metrics.SyncCyclesTotal.WithLabelValues(kind, "ok").Inc()
		c.lastSync = time.Now()
		c.lastError = ""
		metrics.SyncLastSuccess.SetToCurrentTime()
	}
	c.mu.Unlock()

	c.updateDegraded()
}

// updateDegraded publishes degraded-mode edges from the upstream
// breaker.
func (c *Coordinator) updateDegraded() {
	open := c.health != nil && c.health.Open()

	c.mu.Lock()
	changed := open != c.degraded
	c.degraded = open
	c.mu.Unlock()

	if !changed || c.degradeTo == nil {
		return
	}
	if open {
		logging.Warn().Msg("Catalog circuit open, pipeline degraded")
		c.degradeTo.SyncDegraded(true, "catalog circuit open")
	} else {
		logging.Info().Msg("Catalog circuit closed, pipeline recovered")
		c.degradeTo.SyncDegraded(false, "")
	}
}

// syncUser lists one user's watchlist, diffs it against the previous
// snapshot, and pushes the changes through enrichment, routing, and
// delivery. The snapshot is swapped once the listing and diff succeed;
// downstream failures are isolated per item and do not block the swap,
// except that items whose enrichment failed transiently are evicted
// from the new snapshot so the next poll retries them.
func (c *Coordinator) syncUser(ctx context.Context, user string, rules []models.RoutingRule, resync bool) (int, error) {
	items, err := c.listAll(ctx, user)
	if err != nil {
		return 0, err
	}

	current := make(diff.Snapshot, len(items))
	for i := range items {
		current[items[i].GUID] = &items[i]
	}

	c.mu.Lock()
	previous := c.snapshots[user]
	c.mu.Unlock()
	if resync {
		// A resync re-evaluates the full listing, not just the delta.
		previous = nil
	}

	records := diff.Changes(previous, current)
	if len(records) == 0 {
		c.swapSnapshot(user, current)
		return 0, nil
	}
	logging.Info().
		Str("user", user).
		Int("changed", len(records)).
		Bool("resync", resync).
		Msg("Watchlist changes detected")

	results := c.fetcher.EnrichBatch(ctx, records)
	for i := range results {
		res := &results[i]
		if res.Err != nil {
			// Transient and zero-ID failures retry on the next poll via
			// snapshot eviction; not-found items stay so they are not
			// refetched every cycle.
			if !isTerminal(res.Err) {
				delete(current, res.Record.GUID)
			}
			logging.Warn().
				Err(res.Err).
				Str("guid", res.Record.GUID).
				Msg("Enrichment failed, skipping item for this cycle")
			continue
		}
		c.handleItem(ctx, res.Item, rules)
	}

	c.swapSnapshot(user, current)
	return len(records), nil
}

// isTerminal reports enrichment errors that retrying will not fix.
func isTerminal(err error) bool {
	return errors.Is(err, plex.ErrNotFound)
}

// handleItem persists one enriched item and applies its routing
// decisions. Failures are logged and isolated; one bad item never
// blocks the rest of the batch.
func (c *Coordinator) handleItem(ctx context.Context, item *models.ContentItem, rules []models.RoutingRule) {
	if err := c.store.UpsertItems(ctx, []models.ContentItem{*item}); err != nil {
		logging.Error().Err(err).Str("guid", item.GUID).Msg("Failed to persist enriched item")
	}

	decisions := c.engine.Evaluate(item, rules)
	if len(decisions) == 0 {
		logging.Debug().Str("guid", item.GUID).Str("title", item.Title).Msg("No routing rule matched")
		return
	}

	if err := c.dispatcher.Deliver(ctx, item, decisions); err != nil {
		logging.Error().
			Err(err).
			Str("guid", item.GUID).
			Str("title", item.Title).
			Msg("Delivery failed")
	}
}

// listAll pages through one user's complete watchlist.
func (c *Coordinator) listAll(ctx context.Context, user string) ([]models.ContentItem, error) {
	var all []models.ContentItem
	cursor := ""
	for {
		items, next, err := c.catalog.ListWatchlist(ctx, user, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

func (c *Coordinator) swapSnapshot(user string, snap diff.Snapshot) {
	c.mu.Lock()
	c.snapshots[user] = snap
	c.mu.Unlock()
}

// ResolveItems loads the enriched items behind deferred task refs.
// Items removed from the store in the meantime are simply absent.
func (c *Coordinator) ResolveItems(ctx context.Context, user string, refs []string) ([]models.ContentItem, error) {
	stored, err := c.store.GetItemsByUser(ctx, user)
	if err != nil {
		return nil, err
	}
	byGUID := make(map[string]*models.ContentItem, len(stored))
	for i := range stored {
		byGUID[stored[i].GUID] = &stored[i]
	}

	var items []models.ContentItem
	for _, ref := range refs {
		if item, ok := byGUID[ref]; ok {
			items = append(items, *item)
		}
	}
	return items, nil
}
