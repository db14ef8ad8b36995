// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/jamcalli/Pulsarr-sub006/internal/config"
	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
	"github.com/jamcalli/Pulsarr-sub006/internal/metrics"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

// DrainDeps are the callbacks the drain loop needs from the rest of the
// pipeline. Decisions are never read from the task; Decide recomputes
// them against the current rule set at delivery time.
type DrainDeps struct {
	// ResolveItems loads the enriched items behind a task's references.
	// References no longer present in the store are simply absent from
	// the result.
	ResolveItems func(ctx context.Context, user string, refs []string) ([]models.ContentItem, error)

	// Decide recomputes routing decisions for one item.
	Decide func(item *models.ContentItem) []models.RoutingDecision
}

// Drainer periodically retries deferred tasks against recovered
// families. It also probes family health between drains so an
// unhealthy-to-healthy transition triggers an immediate drain instead
// of waiting out the interval.
type Drainer struct {
	queue    *DeferredQueue
	managers []Manager
	deps     DrainDeps
	events   EventSink

	interval      time.Duration
	maxAge        time.Duration
	probeInterval time.Duration

	// recovered is signalled by the health watcher; buffered so a probe
	// never blocks on a drain already in progress.
	recovered chan struct{}

	lastHealthy map[models.TargetKind]bool

	now func() time.Time
}

// NewDrainer builds the drain service.
func NewDrainer(queue *DeferredQueue, deps DrainDeps, events EventSink, cfg config.QueueConfig, managers ...Manager) *Drainer {
	if events == nil {
		events = NopSink{}
	}
	probe := cfg.DrainInterval / 4
	if probe < time.Second {
		probe = time.Second
	}
	return &Drainer{
		queue:         queue,
		managers:      managers,
		deps:          deps,
		events:        events,
		interval:      cfg.DrainInterval,
		maxAge:        cfg.MaxAge,
		probeInterval: probe,
		recovered:     make(chan struct{}, 1),
		lastHealthy:   make(map[models.TargetKind]bool, len(managers)),
		now:           time.Now,
	}
}

// Serve runs the drain loop until the context is cancelled. Suitable
// for a suture supervisor.
func (d *Drainer) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", d.interval).
		Dur("max_age", d.maxAge).
		Msg("Deferred delivery drainer started")

	drain := time.NewTicker(d.interval)
	defer drain.Stop()
	probe := time.NewTicker(d.probeInterval)
	defer probe.Stop()

	// Drain once at startup so tasks queued before a restart are not
	// stuck waiting for the first tick.
	d.DrainAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-drain.C:
			d.DrainAll(ctx)
		case <-probe.C:
			d.probeHealth(ctx)
		case <-d.recovered:
			d.DrainAll(ctx)
		}
	}
}

// probeHealth checks each family and signals the drain loop on an
// unhealthy-to-healthy edge.
func (d *Drainer) probeHealth(ctx context.Context) {
	for _, mgr := range d.managers {
		kind := mgr.Kind()
		healthy := mgr.Healthy(ctx)
		if healthy && !d.lastHealthy[kind] {
			logging.Info().Str("family", string(kind)).Msg("Target family recovered, draining deferred tasks")
			select {
			case d.recovered <- struct{}{}:
			default:
			}
		}
		d.lastHealthy[kind] = healthy
	}
}

// DrainAll drains every family whose manager reports healthy. Unhealthy
// families still get an expiry sweep; dropping needs no delivery
// attempt, and the queue stays bounded through a long outage.
func (d *Drainer) DrainAll(ctx context.Context) {
	for _, mgr := range d.managers {
		if ctx.Err() != nil {
			return
		}
		if !mgr.Healthy(ctx) {
			d.sweepExpired(ctx, mgr.Kind())
			continue
		}
		d.drainFamily(ctx, mgr)
	}
}

// sweepExpired drops aged-out tasks for one family without attempting
// delivery.
func (d *Drainer) sweepExpired(ctx context.Context, kind models.TargetKind) {
	tasks, err := d.queue.Pending(ctx, kind)
	if err != nil {
		logging.Error().Err(err).Str("family", string(kind)).Msg("Failed to list deferred tasks")
		return
	}
	for i := range tasks {
		if ctx.Err() != nil {
			return
		}
		if tasks[i].Age(d.now()) > d.maxAge {
			d.drop(ctx, &tasks[i])
		}
	}
}

// drainFamily retries every pending task for one family, oldest first.
// A transient delivery failure records the attempt and stops the pass;
// the family has likely gone unhealthy again and the next tick retries.
func (d *Drainer) drainFamily(ctx context.Context, mgr Manager) {
	kind := mgr.Kind()
	tasks, err := d.queue.Pending(ctx, kind)
	if err != nil {
		logging.Error().Err(err).Str("family", string(kind)).Msg("Failed to list deferred tasks")
		return
	}

	for i := range tasks {
		task := &tasks[i]
		if ctx.Err() != nil {
			return
		}

		if task.Age(d.now()) > d.maxAge {
			d.drop(ctx, task)
			continue
		}

		if err := d.deliverTask(ctx, mgr, task); err != nil {
			task.AttemptCount++
			task.LastError = err.Error()
			if uerr := d.queue.Update(ctx, task); uerr != nil {
				logging.Error().Err(uerr).Str("task", task.TaskID).Msg("Failed to record delivery attempt")
			}
			logging.Warn().
				Str("task", task.TaskID).
				Int("attempts", task.AttemptCount).
				Err(err).
				Msg("Deferred delivery attempt failed")
			return
		}

		if err := d.queue.Remove(ctx, kind, task.TaskID); err != nil {
			logging.Error().Err(err).Str("task", task.TaskID).Msg("Failed to remove delivered task")
			continue
		}
		metrics.QueueDeliveredTotal.WithLabelValues(string(kind)).Inc()
		logging.Info().
			Str("task", task.TaskID).
			Str("family", string(kind)).
			Int("attempts", task.AttemptCount).
			Msg("Deferred task delivered")
	}
}

// drop removes an expired task. The terminal log entry is written
// exactly once, after the task is gone from the queue, so a crash
// between the two cannot produce a dropped-but-still-queued task.
func (d *Drainer) drop(ctx context.Context, task *models.DeferredTask) {
	if err := d.queue.Remove(ctx, task.TargetKind, task.TaskID); err != nil {
		logging.Error().Err(err).Str("task", task.TaskID).Msg("Failed to remove expired task")
		return
	}
	metrics.QueueDroppedTotal.WithLabelValues(string(task.TargetKind)).Inc()
	logging.Error().
		Str("task", task.TaskID).
		Str("target", string(task.TargetKind)).
		Int("items", len(task.ItemRefs)).
		Int("attempts", task.AttemptCount).
		Dur("age", task.Age(d.now())).
		Str("last_error", task.LastError).
		Msg("Deferred task exceeded max age, dropping")
	d.events.TaskDropped(task, "max_age")
}

// deliverTask resolves the task's item references and dispatches each
// with freshly computed decisions. Items no longer present in the store
// were removed from the watchlist and are skipped.
func (d *Drainer) deliverTask(ctx context.Context, mgr Manager, task *models.DeferredTask) error {
	items, err := d.deps.ResolveItems(ctx, task.User, task.ItemRefs)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		logging.Debug().
			Str("task", task.TaskID).
			Msg("Deferred task items no longer present, delivering vacuously")
		return nil
	}

	var errs []error
	for i := range items {
		item := &items[i]
		decisions := d.deps.Decide(item)
		if len(decisions) == 0 {
			// The rule set changed while the task sat queued; nothing
			// routes this item anymore.
			logging.Debug().Str("guid", item.GUID).Msg("No routing decision for deferred item")
			continue
		}
		for _, decision := range decisions {
			err := mgr.Dispatch(ctx, item, decision)
			switch {
			case err == nil:
				d.events.ItemRouted(item, decision)
			case errors.Is(err, ErrPermanent):
				logging.Warn().Str("guid", item.GUID).Err(err).Msg("Instance rejected deferred item, skipping")
			default:
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
