// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jamcalli/Pulsarr-sub006/internal/config"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(&config.StoreConfig{Path: t.TempDir(), InMemory: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_UpsertAndGetItemsByUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	items := []models.ContentItem{
		{GUID: "plex://movie/a", Title: "Alpha", ContentType: models.ContentTypeMovie, User: "alice"},
		{GUID: "plex://show/b", Title: "Beta", ContentType: models.ContentTypeShow, User: "alice"},
		{GUID: "plex://movie/c", Title: "Gamma", ContentType: models.ContentTypeMovie, User: "bob"},
	}
	if err := s.UpsertItems(ctx, items); err != nil {
		t.Fatalf("UpsertItems() error = %v", err)
	}

	got, err := s.GetItemsByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetItemsByUser() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d items for alice, want 2", len(got))
	}

	got, err = s.GetItemsByUser(ctx, "bob")
	if err != nil {
		t.Fatalf("GetItemsByUser() error = %v", err)
	}
	if len(got) != 1 || got[0].Title != "Gamma" {
		t.Fatalf("bob's items = %+v, want just Gamma", got)
	}

	// Upsert replaces the stored item whole.
	items[0].Title = "Alpha Redux"
	items[0].Genres = []string{"Action"}
	if err := s.UpsertItems(ctx, items[:1]); err != nil {
		t.Fatalf("UpsertItems() error = %v", err)
	}
	got, _ = s.GetItemsByUser(ctx, "alice")
	for _, item := range got {
		if item.GUID == "plex://movie/a" && item.Title != "Alpha Redux" {
			t.Errorf("item not replaced: %+v", item)
		}
	}
}

func TestStore_GetItemsByUser_Empty(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetItemsByUser(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetItemsByUser() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d items, want 0", len(got))
	}
}

func TestStore_DeleteItem(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	items := []models.ContentItem{{GUID: "plex://movie/a", Title: "Alpha", User: "alice"}}
	if err := s.UpsertItems(ctx, items); err != nil {
		t.Fatalf("UpsertItems() error = %v", err)
	}
	if err := s.DeleteItem(ctx, "alice", "plex://movie/a"); err != nil {
		t.Fatalf("DeleteItem() error = %v", err)
	}
	got, _ := s.GetItemsByUser(ctx, "alice")
	if len(got) != 0 {
		t.Fatalf("item still present after delete: %+v", got)
	}
}

func TestStore_RuleLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rule := models.RoutingRule{
		Name:       "anime",
		Priority:   80,
		TargetType: models.TargetRadarr,
		CriteriaTree: &models.ConditionGroup{
			LogicalOp: models.LogicalAnd,
			Children: []models.ConditionNode{
				models.Leaf(models.Condition{Field: "genre", Operator: "in", Value: []string{"anime"}}),
			},
		},
		Enabled: true,
	}

	if err := s.SaveRule(ctx, &rule); err != nil {
		t.Fatalf("SaveRule() error = %v", err)
	}
	if rule.ID == "" {
		t.Fatal("SaveRule() did not assign an ID")
	}

	rules, err := s.GetRules(ctx)
	if err != nil {
		t.Fatalf("GetRules() error = %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "anime" {
		t.Fatalf("rules = %+v, want one rule named anime", rules)
	}
	if rules[0].CriteriaTree == nil || len(rules[0].CriteriaTree.Children) != 1 {
		t.Fatalf("criteria tree not round-tripped: %+v", rules[0].CriteriaTree)
	}

	// Saving with the same ID updates in place.
	rule.Priority = 90
	if err := s.SaveRule(ctx, &rule); err != nil {
		t.Fatalf("SaveRule() update error = %v", err)
	}
	rules, _ = s.GetRules(ctx)
	if len(rules) != 1 || rules[0].Priority != 90 {
		t.Fatalf("rules after update = %+v, want single rule at priority 90", rules)
	}

	if err := s.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeleteRule() error = %v", err)
	}
	rules, _ = s.GetRules(ctx)
	if len(rules) != 0 {
		t.Fatalf("rules after delete = %+v, want none", rules)
	}
}

func TestStore_DeleteRule_NotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.DeleteRule(context.Background(), "missing")
	if !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("DeleteRule() = %v, want ErrRuleNotFound", err)
	}
}
