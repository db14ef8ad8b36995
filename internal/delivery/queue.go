// Pulsarr - Plex Watchlist Routing for Radarr and Sonarr
// Copyright 2026 jamcalli
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jamcalli/Pulsarr-sub006

package delivery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jamcalli/Pulsarr-sub006/internal/logging"
	"github.com/jamcalli/Pulsarr-sub006/internal/metrics"
	"github.com/jamcalli/Pulsarr-sub006/internal/models"
)

// DeferredQueue persists tasks that could not be delivered because
// their target family was unhealthy. It is pure storage; the drain
// policy lives in Drainer.
//
// Key scheme: task:<target>:<taskID>.
type DeferredQueue struct {
	db *badger.DB

	// now is swappable for age tests.
	now func() time.Time
}

// NewDeferredQueue wraps an open badger handle.
func NewDeferredQueue(db *badger.DB) *DeferredQueue {
	return &DeferredQueue{db: db, now: time.Now}
}

func taskKey(kind models.TargetKind, id string) []byte {
	return []byte("task:" + string(kind) + ":" + id)
}

// Enqueue persists a new task. The task ID and creation time are
// assigned here; attempts start at zero.
func (q *DeferredQueue) Enqueue(ctx context.Context, task *models.DeferredTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task.TaskID == "" {
		task.TaskID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = q.now()
	}
	task.AttemptCount = 0

	if err := q.put(task); err != nil {
		return err
	}
	metrics.QueueDepth.WithLabelValues(string(task.TargetKind)).Inc()
	logging.Info().
		Str("task", task.TaskID).
		Str("target", string(task.TargetKind)).
		Int("items", len(task.ItemRefs)).
		Msg("Delivery deferred, target family unhealthy")
	return nil
}

// Update rewrites a task after a failed delivery attempt.
func (q *DeferredQueue) Update(ctx context.Context, task *models.DeferredTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.put(task)
}

func (q *DeferredQueue) put(task *models.DeferredTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("delivery: marshal task %s: %w", task.TaskID, err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(taskKey(task.TargetKind, task.TaskID), data)
	})
	if err != nil {
		return fmt.Errorf("delivery: write task %s: %w", task.TaskID, err)
	}
	return nil
}

// Remove deletes a task after delivery or a terminal drop.
func (q *DeferredQueue) Remove(ctx context.Context, kind models.TargetKind, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(taskKey(kind, taskID))
	})
	if err != nil {
		return fmt.Errorf("delivery: remove task %s: %w", taskID, err)
	}
	metrics.QueueDepth.WithLabelValues(string(kind)).Dec()
	return nil
}

// Pending returns every queued task for one family, oldest first.
func (q *DeferredQueue) Pending(ctx context.Context, kind models.TargetKind) ([]models.DeferredTask, error) {
	var tasks []models.DeferredTask
	prefix := []byte("task:" + string(kind) + ":")

	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var task models.DeferredTask
				if err := json.Unmarshal(val, &task); err != nil {
					return fmt.Errorf("unmarshal task %s: %w", it.Item().Key(), err)
				}
				tasks = append(tasks, task)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delivery: list pending %s tasks: %w", kind, err)
	}

	// Badger iterates in key order and task IDs are random UUIDs, so
	// sort by age to drain the oldest work first.
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// Depth counts queued tasks for one family.
func (q *DeferredQueue) Depth(ctx context.Context, kind models.TargetKind) (int, error) {
	tasks, err := q.Pending(ctx, kind)
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}
