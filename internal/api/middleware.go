// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package api

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
)

// requestLogging emits one structured line per request. Health and
// metrics probes log at debug so scrapers do not flood the log.
func requestLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			event := logging.Info()
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				event = logging.Debug()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}
