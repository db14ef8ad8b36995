// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package plex

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
	"github.com/jamcalli/Pulsarr-sub006/internal/metrics"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

// BreakerClient wraps Client with a circuit breaker so a catalog outage
// stops hammering the API and surfaces as degraded status instead of a
// stream of per-item failures.
//
// Rate limits and 404s are deliberately not counted as failures: the
// enrichment throttle owns 429 handling, and a missing item says
// nothing about upstream health. Only transient/network failures trip
// the breaker.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[any]
	name   string
}

// NewBreakerClient wraps client with a circuit breaker. The breaker
// opens after a 60% failure rate across at least 10 requests, and
// probes recovery after 2 minutes.
func NewBreakerClient(client *Client) *BreakerClient {
	cbName := "plex-catalog"
	metrics.BreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		// Rate limits and not-found results are expected operation, not
		// upstream failure.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return IsRateLimited(err) || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Catalog circuit breaker state transition")
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerClient{client: client, cb: cb, name: cbName}
}

// ListWatchlist delegates through the breaker.
func (b *BreakerClient) ListWatchlist(ctx context.Context, user, cursor string) ([]models.ContentItem, string, error) {
	type page struct {
		items []models.ContentItem
		next  string
	}
	result, err := b.execute(func() (any, error) {
		items, next, err := b.client.ListWatchlist(ctx, user, cursor)
		if err != nil {
			return nil, err
		}
		return page{items: items, next: next}, nil
	})
	if err != nil {
		return nil, "", err
	}
	p := result.(page)
	return p.items, p.next, nil
}

// LookupMetadata delegates through the breaker.
func (b *BreakerClient) LookupMetadata(ctx context.Context, ref string) (*RawMetadata, error) {
	result, err := b.execute(func() (any, error) {
		return b.client.LookupMetadata(ctx, ref)
	})
	if err != nil {
		return nil, err
	}
	return result.(*RawMetadata), nil
}

// Open reports whether the breaker currently rejects requests. The
// coordinator exposes this as a degraded-status indicator.
func (b *BreakerClient) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.BreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			// An open breaker is a transient condition for callers.
			return nil, &TransientError{Err: err}
		}
		metrics.BreakerRequests.WithLabelValues(b.name, "failure").Inc()
		return nil, err
	}
	metrics.BreakerRequests.WithLabelValues(b.name, "success").Inc()
	return result, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
