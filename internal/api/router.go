// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

// Package api exposes the HTTP control surface: health, pipeline
// status, rule management, routing preview, and Prometheus metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jamcalli/Pulsarr-sub006/internal/config"
)

// Router assembles the HTTP handler tree.
type Router struct {
	cfg     config.ServerConfig
	handler *Handler
}

// NewRouter wires the router with its handler set.
func NewRouter(cfg config.ServerConfig, handler *Handler) *Router {
	return &Router{cfg: cfg, handler: handler}
}

// Setup builds the chi handler. CORS is global so OPTIONS preflight
// works everywhere; rate limiting applies to the API surface only, the
// health and metrics endpoints stay unthrottled for scrapers.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogging())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/healthz", router.handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.Limit(
			router.cfg.RateLimitReqs,
			router.cfg.RateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))

		r.Get("/status", router.handler.Status)
		r.Post("/sync", router.handler.TriggerSync)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", router.handler.ListRules)
			r.Post("/", router.handler.SaveRule)
			r.Delete("/{id}", router.handler.DeleteRule)
		})

		r.Post("/routing/preview", router.handler.PreviewRouting)
	})

	return r
}
