// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
)

// NotificationLog is the default bus subscriber: it renders each event
// as a structured log line. It stands in for outbound notifiers
// (Discord, webhooks) that would subscribe the same way.
type NotificationLog struct {
	bus *Bus
}

// NewNotificationLog builds the log subscriber.
func NewNotificationLog(bus *Bus) *NotificationLog {
	return &NotificationLog{bus: bus}
}

// Serve consumes all topics until the context is cancelled. Suitable
// for a suture supervisor.
func (n *NotificationLog) Serve(ctx context.Context) error {
	routed, err := n.bus.Subscribe(ctx, TopicItemRouted)
	if err != nil {
		return err
	}
	dropped, err := n.bus.Subscribe(ctx, TopicTaskDropped)
	if err != nil {
		return err
	}
	degraded, err := n.bus.Subscribe(ctx, TopicSyncDegraded)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-routed:
			if !ok {
				return nil
			}
			n.logRouted(msg)
		case msg, ok := <-dropped:
			if !ok {
				return nil
			}
			n.logDropped(msg)
		case msg, ok := <-degraded:
			if !ok {
				return nil
			}
			n.logDegraded(msg)
		}
	}
}

func (n *NotificationLog) logRouted(msg *message.Message) {
	defer msg.Ack()
	var ev ItemRoutedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		logging.Warn().Err(err).Msg("Malformed item.routed event")
		return
	}
	logging.Info().
		Str("title", ev.Title).
		Str("user", ev.User).
		Str("target", string(ev.Target)).
		Int("instance", ev.InstanceID).
		Msg("Notification: item routed")
}

func (n *NotificationLog) logDropped(msg *message.Message) {
	defer msg.Ack()
	var ev TaskDroppedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		logging.Warn().Err(err).Msg("Malformed task.dropped event")
		return
	}
	logging.Warn().
		Str("task", ev.TaskID).
		Str("target", string(ev.Target)).
		Int("items", len(ev.ItemRefs)).
		Str("reason", ev.Reason).
		Msg("Notification: deferred task dropped")
}

func (n *NotificationLog) logDegraded(msg *message.Message) {
	defer msg.Ack()
	var ev SyncDegradedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		logging.Warn().Err(err).Msg("Malformed sync.degraded event")
		return
	}
	if ev.Degraded {
		logging.Warn().Str("reason", ev.Reason).Msg("Notification: sync degraded")
		return
	}
	logging.Info().Msg("Notification: sync recovered")
}
