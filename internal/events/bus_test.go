// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package events

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

func TestBus_ItemRoutedRoundTrip(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, TopicItemRouted)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	item := &models.ContentItem{GUID: "plex://movie/a", Title: "Redline", User: "alice"}
	decision := models.RoutingDecision{
		RuleID:     "rule-1",
		TargetType: models.TargetRadarr,
		InstanceID: 1,
	}
	bus.ItemRouted(item, decision)

	select {
	case msg := <-msgs:
		defer msg.Ack()
		var event ItemRoutedEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if event.GUID != "plex://movie/a" || event.Target != models.TargetRadarr || event.InstanceID != 1 {
			t.Fatalf("event = %+v, fields not carried", event)
		}
		if event.At.IsZero() {
			t.Error("event missing timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestBus_PublishWithoutSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.SyncDegraded(true, "catalog circuit open")
			bus.TaskDropped(&models.DeferredTask{TaskID: "t", TargetKind: models.TargetSonarr}, "max age exceeded")
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publishing blocked with no subscriber")
	}
}
