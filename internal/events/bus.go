// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

// Package events publishes pipeline notifications over an in-process
// watermill pub/sub. Publishing is fire-and-forget: a slow or absent
// subscriber never blocks routing or delivery.
package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

// Topics carried on the bus.
const (
	TopicItemRouted   = "item.routed"
	TopicTaskDropped  = "task.dropped"
	TopicSyncDegraded = "sync.degraded"
)

// ItemRoutedEvent is published after an item is dispatched to an
// acquisition instance, immediately or from the deferred queue.
type ItemRoutedEvent struct {
	GUID       string            `json:"guid"`
	Title      string            `json:"title"`
	User       string            `json:"user,omitempty"`
	Target     models.TargetKind `json:"target"`
	InstanceID int               `json:"instanceId"`
	RuleID     string            `json:"ruleId,omitempty"`
	At         time.Time         `json:"at"`
}

// TaskDroppedEvent is published when a deferred task ages out.
type TaskDroppedEvent struct {
	TaskID   string            `json:"taskId"`
	Target   models.TargetKind `json:"target"`
	ItemRefs []string          `json:"itemRefs"`
	Attempts int               `json:"attempts"`
	Reason   string            `json:"reason"`
	At       time.Time         `json:"at"`
}

// SyncDegradedEvent is published when the pipeline enters or leaves
// degraded mode (upstream circuit open).
type SyncDegradedEvent struct {
	Degraded bool      `json:"degraded"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// Bus is the in-process event bus.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the bus. Messages published with no subscriber are
// dropped, which is the behavior fire-and-forget notifications want.
func NewBus() *Bus {
	ps := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		newWatermillLogger(),
	)
	return &Bus{pubsub: ps}
}

// Close shuts the bus down, closing all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Subscribe returns a channel of messages for one topic.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// ItemRouted publishes an item-routed notification.
func (b *Bus) ItemRouted(item *models.ContentItem, decision models.RoutingDecision) {
	b.publish(TopicItemRouted, ItemRoutedEvent{
		GUID:       item.GUID,
		Title:      item.Title,
		User:       item.User,
		Target:     decision.TargetType,
		InstanceID: decision.InstanceID,
		RuleID:     decision.RuleID,
		At:         time.Now(),
	})
}

// TaskDropped publishes a terminal task-drop notification.
func (b *Bus) TaskDropped(task *models.DeferredTask, reason string) {
	b.publish(TopicTaskDropped, TaskDroppedEvent{
		TaskID:   task.TaskID,
		Target:   task.TargetKind,
		ItemRefs: task.ItemRefs,
		Attempts: task.AttemptCount,
		Reason:   reason,
		At:       time.Now(),
	})
}

// SyncDegraded publishes a degraded-mode transition.
func (b *Bus) SyncDegraded(degraded bool, reason string) {
	b.publish(TopicSyncDegraded, SyncDegradedEvent{
		Degraded: degraded,
		Reason:   reason,
		At:       time.Now(),
	})
}

func (b *Bus) publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		logging.Warn().Err(err).Str("topic", topic).Msg("Failed to publish event")
	}
}
