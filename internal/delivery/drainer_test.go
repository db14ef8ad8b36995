// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jamcalli/Pulsarr-sub006/internal/config"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

// fakeManager is a scriptable family manager.
type fakeManager struct {
	kind models.TargetKind

	mu          sync.Mutex
	healthy     bool
	dispatchErr error
	dispatched  []string
}

func (m *fakeManager) Kind() models.TargetKind      { return m.kind }
func (m *fakeManager) Instances() []models.Instance { return []models.Instance{{ID: 1, Kind: m.kind}} }

func (m *fakeManager) Healthy(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

func (m *fakeManager) setHealthy(h bool) {
	m.mu.Lock()
	m.healthy = h
	m.mu.Unlock()
}

func (m *fakeManager) Dispatch(_ context.Context, item *models.ContentItem, _ models.RoutingDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dispatchErr != nil {
		return m.dispatchErr
	}
	m.dispatched = append(m.dispatched, item.GUID)
	return nil
}

func (m *fakeManager) dispatchedGUIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dispatched...)
}

// recordingSink counts delivery events.
type recordingSink struct {
	mu      sync.Mutex
	routed  []string
	dropped []string
}

func (s *recordingSink) ItemRouted(item *models.ContentItem, _ models.RoutingDecision) {
	s.mu.Lock()
	s.routed = append(s.routed, item.GUID)
	s.mu.Unlock()
}

func (s *recordingSink) TaskDropped(task *models.DeferredTask, _ string) {
	s.mu.Lock()
	s.dropped = append(s.dropped, task.TaskID)
	s.mu.Unlock()
}

func testDecision(kind models.TargetKind) models.RoutingDecision {
	return models.RoutingDecision{InstanceID: 1, TargetType: kind, Priority: 80, RuleID: "r1"}
}

func testDrainDeps(items map[string]models.ContentItem, kind models.TargetKind) DrainDeps {
	return DrainDeps{
		ResolveItems: func(_ context.Context, _ string, refs []string) ([]models.ContentItem, error) {
			var out []models.ContentItem
			for _, ref := range refs {
				if item, ok := items[ref]; ok {
					out = append(out, item)
				}
			}
			return out, nil
		},
		Decide: func(*models.ContentItem) []models.RoutingDecision {
			return []models.RoutingDecision{testDecision(kind)}
		},
	}
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{DrainInterval: time.Minute, MaxAge: 24 * time.Hour}
}

// TestDispatcher_DefersWhenUnhealthy covers the outage scenario: an
// unhealthy family enqueues a task with zero attempts instead of
// dispatching.
func TestDispatcher_DefersWhenUnhealthy(t *testing.T) {
	q := newTestQueue(t)
	mgr := &fakeManager{kind: models.TargetRadarr}
	sink := &recordingSink{}
	d := NewDispatcher(q, sink, mgr)
	ctx := context.Background()

	item := &models.ContentItem{GUID: "plex://movie/a", Title: "Alpha", ContentType: models.ContentTypeMovie, User: "alice"}
	err := d.Deliver(ctx, item, []models.RoutingDecision{testDecision(models.TargetRadarr)})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if len(mgr.dispatchedGUIDs()) != 0 {
		t.Fatal("dispatch attempted against unhealthy family")
	}
	pending, _ := q.Pending(ctx, models.TargetRadarr)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	task := pending[0]
	if task.AttemptCount != 0 {
		t.Errorf("AttemptCount = %d, want 0", task.AttemptCount)
	}
	if len(task.ItemRefs) != 1 || task.ItemRefs[0] != item.GUID {
		t.Errorf("ItemRefs = %v, want the item guid", task.ItemRefs)
	}
	if task.User != "alice" {
		t.Errorf("User = %q, want alice", task.User)
	}
}

func TestDispatcher_DispatchesWhenHealthy(t *testing.T) {
	q := newTestQueue(t)
	mgr := &fakeManager{kind: models.TargetRadarr, healthy: true}
	sink := &recordingSink{}
	d := NewDispatcher(q, sink, mgr)
	ctx := context.Background()

	item := &models.ContentItem{GUID: "plex://movie/a", ContentType: models.ContentTypeMovie}
	err := d.Deliver(ctx, item, []models.RoutingDecision{testDecision(models.TargetRadarr)})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if got := mgr.dispatchedGUIDs(); len(got) != 1 || got[0] != item.GUID {
		t.Fatalf("dispatched = %v, want the item", got)
	}
	if len(sink.routed) != 1 {
		t.Errorf("routed events = %d, want 1", len(sink.routed))
	}
	if pending, _ := q.Pending(ctx, models.TargetRadarr); len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestDispatcher_PermanentRejectionNotDeferred(t *testing.T) {
	q := newTestQueue(t)
	mgr := &fakeManager{kind: models.TargetRadarr, healthy: true, dispatchErr: ErrPermanent}
	d := NewDispatcher(q, &recordingSink{}, mgr)
	ctx := context.Background()

	item := &models.ContentItem{GUID: "plex://movie/a", ContentType: models.ContentTypeMovie}
	if err := d.Deliver(ctx, item, []models.RoutingDecision{testDecision(models.TargetRadarr)}); err != nil {
		t.Fatalf("Deliver() error = %v, permanent rejections are swallowed", err)
	}
	if pending, _ := q.Pending(ctx, models.TargetRadarr); len(pending) != 0 {
		t.Fatal("permanent rejection was deferred")
	}
}

// TestDrainer_RecoveryDrain covers the full deferral round trip:
// unhealthy at enqueue, then the family recovers and the drain pass
// delivers with freshly computed decisions and removes the task.
func TestDrainer_RecoveryDrain(t *testing.T) {
	q := newTestQueue(t)
	mgr := &fakeManager{kind: models.TargetRadarr}
	sink := &recordingSink{}
	dispatcher := NewDispatcher(q, sink, mgr)
	ctx := context.Background()

	item := models.ContentItem{GUID: "plex://movie/a", Title: "Alpha", ContentType: models.ContentTypeMovie, User: "alice"}
	if err := dispatcher.Deliver(ctx, &item, []models.RoutingDecision{testDecision(models.TargetRadarr)}); err != nil {
		t.Fatal(err)
	}

	deps := testDrainDeps(map[string]models.ContentItem{item.GUID: item}, models.TargetRadarr)
	drainer := NewDrainer(q, deps, sink, testQueueConfig(), mgr)

	// Still unhealthy: nothing moves.
	drainer.DrainAll(ctx)
	if pending, _ := q.Pending(ctx, models.TargetRadarr); len(pending) != 1 {
		t.Fatalf("pending = %d after unhealthy drain, want 1", len(pending))
	}

	mgr.setHealthy(true)
	drainer.DrainAll(ctx)

	if got := mgr.dispatchedGUIDs(); len(got) != 1 || got[0] != item.GUID {
		t.Fatalf("dispatched = %v, want the deferred item", got)
	}
	if pending, _ := q.Pending(ctx, models.TargetRadarr); len(pending) != 0 {
		t.Fatalf("pending = %d after drain, want 0", len(pending))
	}
}

func TestDrainer_FailedAttemptRecorded(t *testing.T) {
	q := newTestQueue(t)
	mgr := &fakeManager{kind: models.TargetRadarr, healthy: true, dispatchErr: errors.New("connection refused")}
	ctx := context.Background()

	task := &models.DeferredTask{ItemRefs: []string{"plex://movie/a"}, User: "alice", TargetKind: models.TargetRadarr}
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatal(err)
	}

	item := models.ContentItem{GUID: "plex://movie/a", ContentType: models.ContentTypeMovie, User: "alice"}
	deps := testDrainDeps(map[string]models.ContentItem{item.GUID: item}, models.TargetRadarr)
	drainer := NewDrainer(q, deps, &recordingSink{}, testQueueConfig(), mgr)

	drainer.DrainAll(ctx)
	pending, _ := q.Pending(ctx, models.TargetRadarr)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want task retained after failure", len(pending))
	}
	if pending[0].AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", pending[0].AttemptCount)
	}
	if pending[0].LastError == "" {
		t.Error("LastError not recorded")
	}

	drainer.DrainAll(ctx)
	pending, _ = q.Pending(ctx, models.TargetRadarr)
	if pending[0].AttemptCount != 2 {
		t.Errorf("AttemptCount = %d after second pass, want 2", pending[0].AttemptCount)
	}
}

// TestDrainer_MaxAgeDropExactlyOnce verifies an expired task is dropped
// with a single terminal notification and never retried.
func TestDrainer_MaxAgeDropExactlyOnce(t *testing.T) {
	q := newTestQueue(t)
	mgr := &fakeManager{kind: models.TargetRadarr, healthy: true}
	sink := &recordingSink{}
	ctx := context.Background()

	task := &models.DeferredTask{
		ItemRefs:   []string{"plex://movie/a"},
		TargetKind: models.TargetRadarr,
		CreatedAt:  time.Now().Add(-25 * time.Hour),
	}
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatal(err)
	}

	deps := testDrainDeps(nil, models.TargetRadarr)
	drainer := NewDrainer(q, deps, sink, testQueueConfig(), mgr)

	drainer.DrainAll(ctx)
	if len(mgr.dispatchedGUIDs()) != 0 {
		t.Fatal("expired task was dispatched")
	}
	if pending, _ := q.Pending(ctx, models.TargetRadarr); len(pending) != 0 {
		t.Fatal("expired task still queued")
	}
	if len(sink.dropped) != 1 {
		t.Fatalf("dropped events = %d, want exactly 1", len(sink.dropped))
	}

	drainer.DrainAll(ctx)
	if len(sink.dropped) != 1 {
		t.Fatalf("dropped events = %d after second pass, want still 1", len(sink.dropped))
	}
}

// TestDrainer_ExpirySweepDuringOutage: an expired task is dropped even
// while its family is down; fresh tasks wait for recovery.
func TestDrainer_ExpirySweepDuringOutage(t *testing.T) {
	q := newTestQueue(t)
	mgr := &fakeManager{kind: models.TargetRadarr}
	sink := &recordingSink{}
	ctx := context.Background()

	expired := &models.DeferredTask{
		ItemRefs:   []string{"plex://movie/old"},
		TargetKind: models.TargetRadarr,
		CreatedAt:  time.Now().Add(-25 * time.Hour),
	}
	fresh := &models.DeferredTask{
		ItemRefs:   []string{"plex://movie/new"},
		TargetKind: models.TargetRadarr,
	}
	if err := q.Enqueue(ctx, expired); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	drainer := NewDrainer(q, testDrainDeps(nil, models.TargetRadarr), sink, testQueueConfig(), mgr)
	drainer.DrainAll(ctx)

	if len(mgr.dispatchedGUIDs()) != 0 {
		t.Fatal("dispatch attempted against unhealthy family")
	}
	if len(sink.dropped) != 1 || sink.dropped[0] != expired.TaskID {
		t.Fatalf("dropped = %v, want just the expired task", sink.dropped)
	}
	pending, _ := q.Pending(ctx, models.TargetRadarr)
	if len(pending) != 1 || pending[0].TaskID != fresh.TaskID {
		t.Fatalf("pending = %+v, want only the fresh task retained", pending)
	}
}

// TestDrainer_VacuousDelivery: refs no longer in the store deliver
// vacuously and the task is removed.
func TestDrainer_VacuousDelivery(t *testing.T) {
	q := newTestQueue(t)
	mgr := &fakeManager{kind: models.TargetRadarr, healthy: true}
	ctx := context.Background()

	task := &models.DeferredTask{ItemRefs: []string{"plex://movie/gone"}, TargetKind: models.TargetRadarr}
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatal(err)
	}

	drainer := NewDrainer(q, testDrainDeps(nil, models.TargetRadarr), &recordingSink{}, testQueueConfig(), mgr)
	drainer.DrainAll(ctx)

	if pending, _ := q.Pending(ctx, models.TargetRadarr); len(pending) != 0 {
		t.Fatal("task with vanished items still queued")
	}
	if len(mgr.dispatchedGUIDs()) != 0 {
		t.Fatal("dispatch attempted for vanished items")
	}
}

func TestExternalID(t *testing.T) {
	item := &models.ContentItem{ExternalIDs: []string{"imdb:tt0111161", "tmdb:278", "tvdb:81189"}}

	if id, ok := ExternalID(item, "tmdb"); !ok || id != 278 {
		t.Errorf("ExternalID(tmdb) = %d/%v, want 278/true", id, ok)
	}
	if id, ok := ExternalID(item, "tvdb"); !ok || id != 81189 {
		t.Errorf("ExternalID(tvdb) = %d/%v, want 81189/true", id, ok)
	}
	// imdb IDs are not numeric and never match the numeric extractors.
	if _, ok := ExternalID(item, "imdb"); ok {
		t.Error("ExternalID(imdb) = true, want false for non-numeric id")
	}
	if _, ok := ExternalID(&models.ContentItem{}, "tmdb"); ok {
		t.Error("ExternalID on empty item = true, want false")
	}
}
