// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

// Package enrich resolves bare watchlist references into fully enriched
// content items under upstream rate-limit pressure.
//
// The fetcher runs each batch through a worker pool governed by an
// adaptive concurrency ceiling: any rate-limited lookup returns its item
// to the queue, halts dispatch globally, cools down with exponential
// backoff and jitter, and lowers the ceiling. The ceiling never rises
// within a batch; a new batch starts fresh at the configured initial
// value. The upstream service does not advertise its limits, so this
// feedback loop converges on a safe operating point without tuning.
package enrich

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/jamcalli/Pulsarr-sub006/internal/config"
	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
	"github.com/jamcalli/Pulsarr-sub006/internal/metrics"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
	"github.com/jamcalli/Pulsarr-sub006/internal/plex"
)

// ErrNoExternalIDs reports a lookup that kept returning zero external
// identifiers after all retries. The item is skipped for the cycle and
// picked up again on the next poll; it is never routed with partial
// metadata.
var ErrNoExternalIDs = errors.New("enrich: no external identifiers after retries")

// MetadataClient is the catalog lookup surface the fetcher consumes.
type MetadataClient interface {
	LookupMetadata(ctx context.Context, ref string) (*plex.RawMetadata, error)
}

// Result pairs a change record with its enrichment outcome. Exactly one
// of Item and Err is set.
type Result struct {
	Record models.ChangeRecord
	Item   *models.ContentItem
	Err    error
}

// Fetcher enriches change records with catalog metadata.
type Fetcher struct {
	client MetadataClient
	cfg    config.EnrichConfig

	// sleep and jitter are injectable for deterministic tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewFetcher creates a fetcher with production sleep and jitter sources.
func NewFetcher(client MetadataClient, cfg config.EnrichConfig) *Fetcher {
	return &Fetcher{
		client: client,
		cfg:    cfg,
		sleep:  sleepCtx,
		jitter: rand.Float64,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// batchState is the shared dispatch state for one EnrichBatch call.
// All fields are protected by mu.
type batchState struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue    []int // indices waiting for a worker
	inFlight int
	pending  int // items not yet resolved (success or terminal failure)

	ceiling        int
	consecutive429 int
	halted         bool
	done           bool
}

// EnrichBatch resolves every record in the batch, in parallel up to the
// adaptive concurrency ceiling. The returned slice is index-aligned
// with records. Ctx cancellation lets in-flight lookups finish under
// their own per-request timeout, then drains.
func (f *Fetcher) EnrichBatch(ctx context.Context, records []models.ChangeRecord) []Result {
	results := make([]Result, len(records))
	if len(records) == 0 {
		return results
	}

	s := &batchState{
		queue:   make([]int, 0, len(records)),
		pending: len(records),
		ceiling: f.cfg.InitialConcurrency,
	}
	s.cond = sync.NewCond(&s.mu)
	for i := range records {
		s.queue = append(s.queue, i)
	}
	metrics.EnrichConcurrencyCeiling.Set(float64(s.ceiling))

	// Cancellation wakes all waiting workers so the batch unwinds.
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.done = true
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	var wg sync.WaitGroup
	for w := 0; w < f.cfg.InitialConcurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.worker(ctx, s, records, results)
		}()
	}
	wg.Wait()

	// Anything still queued when the batch unwound (cancellation) is
	// reported as a context error.
	s.mu.Lock()
	for _, idx := range s.queue {
		if results[idx] == (Result{}) {
			results[idx] = Result{Record: records[idx], Err: ctx.Err()}
		}
	}
	s.mu.Unlock()

	return results
}

func (f *Fetcher) worker(ctx context.Context, s *batchState, records []models.ChangeRecord, results []Result) {
	for {
		s.mu.Lock()
		for !s.done && (s.halted || s.inFlight >= s.ceiling || len(s.queue) == 0) {
			if s.pending == 0 {
				s.done = true
				s.cond.Broadcast()
				break
			}
			s.cond.Wait()
		}
		if s.done {
			s.mu.Unlock()
			return
		}
		idx := s.queue[0]
		s.queue = s.queue[1:]
		s.inFlight++
		s.mu.Unlock()

		item, err := f.enrichOne(ctx, records[idx])

		s.mu.Lock()
		s.inFlight--
		if plex.IsRateLimited(err) {
			// Return the item to the queue and halt dispatch. The first
			// worker to observe the limit owns the cooldown.
			s.queue = append(s.queue, idx)
			if !s.halted {
				s.halted = true
				s.consecutive429++
				cooldown := f.cooldownDelay(s.consecutive429, err)
				repeated := s.consecutive429 > 1
				s.ceiling = reduceCeiling(s.ceiling, repeated)
				metrics.EnrichConcurrencyCeiling.Set(float64(s.ceiling))
				metrics.EnrichCooldownsTotal.Inc()
				logging.Warn().
					Dur("cooldown", cooldown).
					Int("ceiling", s.ceiling).
					Int("consecutive", s.consecutive429).
					Msg("Catalog rate limit hit, halting enrichment dispatch")
				go f.resumeAfter(ctx, s, cooldown)
			}
		} else {
			if err == nil {
				s.consecutive429 = 0
			}
			results[idx] = Result{Record: records[idx], Item: item, Err: err}
			s.pending--
			if s.pending == 0 {
				s.done = true
			}
		}
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// resumeAfter sleeps out the cooldown, then reopens dispatch.
func (f *Fetcher) resumeAfter(ctx context.Context, s *batchState, cooldown time.Duration) {
	_ = f.sleep(ctx, cooldown)
	s.mu.Lock()
	s.halted = false
	s.cond.Broadcast()
	s.mu.Unlock()
}

// cooldownDelay computes base * 1.5^(consecutive-1) capped at the
// configured max, with ±10% jitter. A server-advertised Retry-After
// takes precedence when longer.
func (f *Fetcher) cooldownDelay(consecutive int, err error) time.Duration {
	delay := f.cfg.CooldownBase
	for i := 1; i < consecutive; i++ {
		delay = delay * 3 / 2
		if delay >= f.cfg.CooldownMax {
			delay = f.cfg.CooldownMax
			break
		}
	}
	if delay > f.cfg.CooldownMax {
		delay = f.cfg.CooldownMax
	}

	var rle *plex.RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > delay {
		delay = rle.RetryAfter
	}

	// ±10% jitter so concurrent pollers do not resynchronize.
	factor := 0.9 + 0.2*f.jitter()
	return time.Duration(float64(delay) * factor)
}

// reduceCeiling lowers the concurrency ceiling: roughly 40% off after
// repeated rate limits, one slot after an isolated one. Never below 1.
// The ceiling is monotonically non-increasing within a batch.
func reduceCeiling(ceiling int, repeated bool) int {
	if repeated {
		ceiling = ceiling * 6 / 10
	} else {
		ceiling--
	}
	if ceiling < 1 {
		ceiling = 1
	}
	return ceiling
}

// enrichOne performs a single item's lookup, retrying zero-external-ID
// responses and transient failures with short exponential backoff
// (base * 1.5^n, capped). Rate-limit errors return immediately so the
// batch dispatcher can halt.
func (f *Fetcher) enrichOne(ctx context.Context, rec models.ChangeRecord) (*models.ContentItem, error) {
	var lastMeta *plex.RawMetadata

	for attempt := 0; ; attempt++ {
		lctx, cancel := context.WithTimeout(ctx, f.cfg.LookupTimeout)
		meta, err := f.client.LookupMetadata(lctx, rec.GUID)
		cancel()

		switch {
		case err == nil && len(meta.ExternalIDs) > 0:
			metrics.EnrichLookupsTotal.WithLabelValues("ok").Inc()
			return buildItem(rec, meta), nil

		case err == nil:
			// Identifier propagation upstream can lag freshly added
			// items; retry before giving up.
			lastMeta = meta
			metrics.EnrichLookupsTotal.WithLabelValues("empty_ids").Inc()

		case plex.IsRateLimited(err):
			metrics.EnrichLookupsTotal.WithLabelValues("rate_limited").Inc()
			return nil, err

		case errors.Is(err, plex.ErrNotFound):
			metrics.EnrichLookupsTotal.WithLabelValues("not_found").Inc()
			logging.Debug().Str("guid", rec.GUID).Msg("Item not found in catalog")
			return nil, err

		case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
			return nil, ctx.Err()

		default:
			metrics.EnrichLookupsTotal.WithLabelValues("transient").Inc()
		}

		if attempt >= f.cfg.MetadataRetries {
			if lastMeta != nil {
				return nil, ErrNoExternalIDs
			}
			return nil, err
		}

		if sleepErr := f.sleep(ctx, f.metadataBackoff(attempt)); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

// metadataBackoff returns base * 1.5^attempt capped at the configured max.
func (f *Fetcher) metadataBackoff(attempt int) time.Duration {
	delay := f.cfg.MetadataBackoffBase
	for i := 0; i < attempt; i++ {
		delay = delay * 3 / 2
		if delay >= f.cfg.MetadataBackoffMax {
			return f.cfg.MetadataBackoffMax
		}
	}
	if delay > f.cfg.MetadataBackoffMax {
		delay = f.cfg.MetadataBackoffMax
	}
	return delay
}

// buildItem merges the sparse watchlist entry with looked-up metadata.
// Metadata wins; watchlist values fill gaps the lookup left empty.
func buildItem(rec models.ChangeRecord, meta *plex.RawMetadata) *models.ContentItem {
	item := &models.ContentItem{
		GUID:             rec.GUID,
		Title:            meta.Title,
		ContentType:      meta.Type,
		ExternalIDs:      meta.ExternalIDs,
		Genres:           meta.Genres,
		OriginalLanguage: meta.OriginalLanguage,
		ArtworkRef:       meta.ArtworkRef,
		Year:             meta.Year,
		Certification:    meta.Certification,
		WatchProviders:   meta.WatchProviders,
	}
	if rec.Current != nil {
		item.User = rec.Current.User
		if item.Title == "" {
			item.Title = rec.Current.Title
		}
		if item.ContentType == "" {
			item.ContentType = rec.Current.ContentType
		}
		if item.ArtworkRef == "" {
			item.ArtworkRef = rec.Current.ArtworkRef
		}
		if len(item.Genres) == 0 {
			item.Genres = rec.Current.Genres
		}
	}
	return item
}
