// Package queue provides a durable work queue over the database plus a
// worker pool that drains it. Tasks survive restarts; leasing uses row
// locks so concurrent workers never double-process.
package queue

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"

	"github.com/transhub/mclocal/internal/models"
	"github.com/transhub/mclocal/internal/store"
)

// Well-known task types
const (
	TaskScan   = "scan"
	TaskUpload = "upload"
)

// ErrQueueFull is returned when the queue is at its depth bound. The
// caller decides whether to drop, retry later, or surface the error.
var ErrQueueFull = errors.New("queue: depth limit reached")

// Queue is the enqueue/lease facade over the persistent work_queue table
type Queue struct {
	store    *store.Store
	maxDepth int
}

// New creates a queue with the given depth bound. A non-positive bound
// disables the check.
func New(st *store.Store, maxDepth int) *Queue {
	return &Queue{store: st, maxDepth: maxDepth}
}

// Enqueue adds a task, rejecting it when the pending depth is at the
// bound. The check races with concurrent enqueues by design: the bound
// is backpressure, not an exact invariant.
func (q *Queue) Enqueue(ctx context.Context, taskType string, payload datatypes.JSONMap, priority int) (string, error) {
	if q.maxDepth > 0 {
		depth, err := q.store.CountPendingTasks(ctx)
		if err != nil {
			return "", err
		}
		if depth >= int64(q.maxDepth) {
			return "", fmt.Errorf("%w (%d pending)", ErrQueueFull, depth)
		}
	}
	return q.store.EnqueueTask(ctx, taskType, payload, priority, 0)
}

// LeaseNext claims the next pending task of the given type, or any type
// when taskType is empty. Returns store.ErrNoTask when the queue is idle.
func (q *Queue) LeaseNext(ctx context.Context, taskType string) (*models.WorkTask, error) {
	return q.store.LeaseNextTask(ctx, taskType)
}

// Complete marks a leased task done
func (q *Queue) Complete(ctx context.Context, taskID string, result datatypes.JSONMap) error {
	return q.store.CompleteTask(ctx, taskID, result)
}

// Fail records a task failure and reports whether the task is now
// terminally failed or went back to pending for another attempt
func (q *Queue) Fail(ctx context.Context, taskID string, taskErr error) (bool, error) {
	return q.store.FailTask(ctx, taskID, taskErr)
}

// Get fetches a task by id
func (q *Queue) Get(ctx context.Context, taskID string) (*models.WorkTask, error) {
	return q.store.GetTask(ctx, taskID)
}

// Depth returns the number of pending tasks
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.store.CountPendingTasks(ctx)
}

// Reclaim returns tasks stranded in processing by a previous run to the
// pending state. Call before starting workers.
func (q *Queue) Reclaim(ctx context.Context) (int64, error) {
	return q.store.ReclaimStaleTasks(ctx)
}
