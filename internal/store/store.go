// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

// Package store persists watchlist items and routing rules in a badger
// key-value store. The pipeline uses it to seed snapshots on startup,
// record routed state, and hold the rule set; no query logic lives
// here.
//
// Key scheme:
//
//	item:<user>:<guid> -> models.ContentItem
//	rule:<id>          -> models.RoutingRule
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jamcalli/Pulsarr-sub006/internal/config"
	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

// ErrRuleNotFound reports a rule ID with no stored rule.
var ErrRuleNotFound = errors.New("store: rule not found")

// Store wraps the badger database.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at the configured path.
func Open(cfg *config.StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	// Badger's own logger is noisy at INFO; route everything through a
	// discard and surface problems via returned errors instead.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger at %s: %w", cfg.Path, err)
	}
	logging.Info().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("Record store opened")
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying badger handle so other keyspaces (the
// deferred delivery queue) can share one database.
func (s *Store) DB() *badger.DB {
	return s.db
}

func itemKey(user, guid string) []byte {
	return []byte("item:" + user + ":" + guid)
}

func ruleKey(id string) []byte {
	return []byte("rule:" + id)
}

// UpsertItems writes the given items, replacing any stored versions.
// Items are superseded whole, never patched.
func (s *Store) UpsertItems(ctx context.Context, items []models.ContentItem) error {
	if len(items) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := &items[i]
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("store: marshal item %s: %w", item.GUID, err)
		}
		if err := wb.Set(itemKey(item.User, item.GUID), data); err != nil {
			return fmt.Errorf("store: write item %s: %w", item.GUID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("store: flush items: %w", err)
	}
	return nil
}

// GetItemsByUser returns every stored item for the user.
func (s *Store) GetItemsByUser(ctx context.Context, user string) ([]models.ContentItem, error) {
	var items []models.ContentItem
	prefix := []byte("item:" + user + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var item models.ContentItem
				if err := json.Unmarshal(val, &item); err != nil {
					return fmt.Errorf("unmarshal item %s: %w", it.Item().Key(), err)
				}
				items = append(items, item)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: get items for %s: %w", user, err)
	}
	return items, nil
}

// DeleteItem removes one stored item.
func (s *Store) DeleteItem(ctx context.Context, user, guid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(itemKey(user, guid))
	})
	if err != nil {
		return fmt.Errorf("store: delete item %s: %w", guid, err)
	}
	return nil
}

// SaveRule persists a rule, assigning an ID when the rule has none.
// Callers are expected to have validated the rule first.
func (s *Store) SaveRule(ctx context.Context, rule *models.RoutingRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("store: marshal rule %s: %w", rule.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ruleKey(rule.ID), data)
	})
	if err != nil {
		return fmt.Errorf("store: write rule %s: %w", rule.ID, err)
	}
	return nil
}

// GetRules returns every stored routing rule.
func (s *Store) GetRules(ctx context.Context) ([]models.RoutingRule, error) {
	var rules []models.RoutingRule
	prefix := []byte("rule:")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var rule models.RoutingRule
				if err := json.Unmarshal(val, &rule); err != nil {
					return fmt.Errorf("unmarshal rule %s: %w", it.Item().Key(), err)
				}
				rules = append(rules, rule)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: get rules: %w", err)
	}
	return rules, nil
}

// DeleteRule removes a rule by ID.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		_, getErr := txn.Get(ruleKey(id))
		if errors.Is(getErr, badger.ErrKeyNotFound) {
			return ErrRuleNotFound
		}
		if getErr != nil {
			return getErr
		}
		return txn.Delete(ruleKey(id))
	})
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return err
		}
		return fmt.Errorf("store: delete rule %s: %w", id, err)
	}
	return nil
}

// UserFromItemKey extracts the user segment of an item key. Exposed for
// diagnostics only.
func UserFromItemKey(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}
