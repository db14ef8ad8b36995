// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

// Command server runs the Pulsarr watchlist router: it polls Plex
// watchlists, enriches changed entries, evaluates routing rules, and
// dispatches matched items to Radarr and Sonarr instances.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jamcalli/Pulsarr-sub006/internal/api"
	"github.com/jamcalli/Pulsarr-sub006/internal/config"
	"github.com/jamcalli/Pulsarr-sub006/internal/delivery"
	"github.com/jamcalli/Pulsarr-sub006/internal/enrich"
	"github.com/jamcalli/Pulsarr-sub006/internal/events"
	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
	"github.com/jamcalli/Pulsarr-sub006/internal/plex"
	"github.com/jamcalli/Pulsarr-sub006/internal/routing"
	"github.com/jamcalli/Pulsarr-sub006/internal/store"
	"github.com/jamcalli/Pulsarr-sub006/internal/supervisor"
	"github.com/jamcalli/Pulsarr-sub006/internal/workflow"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Pulsarr exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("Pulsarr starting")

	st, err := store.Open(&cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := events.NewBus()
	defer bus.Close()

	// Upstream catalog path: paced client behind a circuit breaker.
	catalog := plex.NewBreakerClient(plex.NewClient(&cfg.Plex))
	fetcher := enrich.NewFetcher(catalog, cfg.Enrich)
	engine := routing.NewEngine(routing.DefaultEvaluators()...)

	radarr := delivery.NewArrManager(models.TargetRadarr, cfg.Radarr, cfg.Server.Timeout)
	sonarr := delivery.NewArrManager(models.TargetSonarr, cfg.Sonarr, cfg.Server.Timeout)
	queue := delivery.NewDeferredQueue(st.DB())
	dispatcher := delivery.NewDispatcher(queue, bus, radarr, sonarr)

	coordinator := workflow.New(
		cfg.Sync,
		cfg.Plex.Users,
		catalog,
		catalog,
		fetcher,
		engine,
		dispatcher,
		st,
		bus,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coordinator.Seed(ctx); err != nil {
		return err
	}

	drainer := delivery.NewDrainer(queue, delivery.DrainDeps{
		ResolveItems: coordinator.ResolveItems,
		Decide: func(item *models.ContentItem) []models.RoutingDecision {
			return coordinator.Decide(ctx, item)
		},
	}, bus, cfg.Queue, radarr, sonarr)

	handler := api.NewHandler(coordinator, engine, st, queue, dispatcher)
	router := api.NewRouter(cfg.Server, handler)
	httpServer := api.NewServer(cfg.Server, router.Setup())

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(supervisor.Named("workflow-coordinator", coordinator))
	tree.AddPipelineService(supervisor.Named("deferred-drainer", drainer))
	tree.AddEventService(supervisor.Named("notification-log", events.NewNotificationLog(bus)))
	tree.AddAPIService(supervisor.Named("http-server", httpServer))

	err = tree.Serve(ctx)

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within shutdown timeout")
		}
	}
	logging.Info().Msg("Pulsarr stopped")
	return err
}
