// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

// EventSink receives delivery notifications. The zero-value NopSink
// discards them.
type EventSink interface {
	ItemRouted(item *models.ContentItem, decision models.RoutingDecision)
	TaskDropped(task *models.DeferredTask, reason string)
}

// NopSink discards all delivery events.
type NopSink struct{}

func (NopSink) ItemRouted(*models.ContentItem, models.RoutingDecision) {}
func (NopSink) TaskDropped(*models.DeferredTask, string)               {}

// Dispatcher routes decisions to family managers, deferring work when
// the target family is down.
type Dispatcher struct {
	managers map[models.TargetKind]Manager
	queue    *DeferredQueue
	events   EventSink
}

// NewDispatcher wires managers, the deferred queue, and an event sink.
func NewDispatcher(queue *DeferredQueue, events EventSink, managers ...Manager) *Dispatcher {
	byKind := make(map[models.TargetKind]Manager, len(managers))
	for _, m := range managers {
		byKind[m.Kind()] = m
	}
	if events == nil {
		events = NopSink{}
	}
	return &Dispatcher{managers: byKind, queue: queue, events: events}
}

// Manager returns the manager for one family, if configured.
func (d *Dispatcher) Manager(kind models.TargetKind) (Manager, bool) {
	m, ok := d.managers[kind]
	return m, ok
}

// Deliver applies the item's routing decisions. When the target family
// is unhealthy the item is enqueued as a deferred task instead; the
// decisions themselves are discarded and recomputed at drain time.
// Permanent rejections are logged and skipped, never deferred.
func (d *Dispatcher) Deliver(ctx context.Context, item *models.ContentItem, decisions []models.RoutingDecision) error {
	if len(decisions) == 0 {
		return nil
	}

	kind := decisions[0].TargetType
	mgr, ok := d.managers[kind]
	if !ok {
		return fmt.Errorf("delivery: no manager for family %q", kind)
	}

	if !mgr.Healthy(ctx) {
		task := &models.DeferredTask{
			ItemRefs:   []string{item.GUID},
			User:       item.User,
			TargetKind: kind,
		}
		return d.queue.Enqueue(ctx, task)
	}

	var errs []error
	for _, decision := range decisions {
		err := mgr.Dispatch(ctx, item, decision)
		switch {
		case err == nil:
			d.events.ItemRouted(item, decision)
		case errors.Is(err, ErrPermanent):
			logging.Warn().
				Str("guid", item.GUID).
				Str("title", item.Title).
				Err(err).
				Msg("Instance rejected item, skipping")
		default:
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
