// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package plex

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports an item absent from the catalog. Not retried:
// the caller logs and drops the item.
var ErrNotFound = errors.New("plex: item not found")

// RateLimitError reports an HTTP 429 from the catalog. The enrichment
// fetcher reacts by halting dispatch and cooling down; the error is
// never surfaced to callers as a failure.
type RateLimitError struct {
	// RetryAfter is the server-advertised wait, zero when the header
	// was absent.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("plex: rate limited, retry after %s", e.RetryAfter)
	}
	return "plex: rate limited"
}

// TransientError wraps a network or upstream 5xx failure. Retried up to
// a fixed bound, then the item is skipped for the cycle.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("plex: transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is (or wraps) a RateLimitError.
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
