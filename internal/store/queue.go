package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/transhub/mclocal/internal/models"
)

// ErrNoTask is returned by LeaseNextTask when no pending task is available
var ErrNoTask = errors.New("store: no pending task")

// EnqueueTask inserts a new pending task and returns its id
func (s *Store) EnqueueTask(ctx context.Context, taskType string, payload datatypes.JSONMap, priority, maxRetries int) (string, error) {
	if taskType == "" {
		return "", &ValidationError{Field: "task_type", Reason: "must not be empty"}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	task := &models.WorkTask{
		TaskID:     uuid.NewString(),
		TaskType:   taskType,
		Payload:    payload,
		Priority:   priority,
		Status:     models.TaskPending,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.conn(ctx).Create(task).Error; err != nil {
		return "", storeErr("enqueue task", err)
	}
	return task.TaskID, nil
}

// CountPendingTasks returns the current queue depth
func (s *Store) CountPendingTasks(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&models.WorkTask{}).
		Where("status = ?", models.TaskPending).
		Count(&n).Error
	if err != nil {
		return 0, storeErr("count pending tasks", err)
	}
	return n, nil
}

// LeaseNextTask atomically claims the highest-priority, oldest pending
// task and marks it processing. SKIP LOCKED guarantees two concurrent
// workers never lease the same row: the loser sees ErrNoTask.
func (s *Store) LeaseNextTask(ctx context.Context, taskType string) (*models.WorkTask, error) {
	var task models.WorkTask

	err := s.transaction(ctx, "lease task", func(tx *gorm.DB) error {
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", models.TaskPending)
		if taskType != "" {
			q = q.Where("task_type = ?", taskType)
		}
		if err := q.Order("priority DESC, created_at ASC").First(&task).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		task.Status = models.TaskProcessing
		task.StartedAt = &now
		return tx.Model(&task).Updates(map[string]interface{}{
			"status":     models.TaskProcessing,
			"started_at": now,
		}).Error
	})

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoTask
		}
		return nil, err
	}
	return &task, nil
}

// CompleteTask marks a processing task as completed with its result
func (s *Store) CompleteTask(ctx context.Context, taskID string, result datatypes.JSONMap) error {
	err := s.conn(ctx).Model(&models.WorkTask{}).
		Where("task_id = ?", taskID).
		Updates(map[string]interface{}{
			"status":       models.TaskCompleted,
			"result":       result,
			"completed_at": time.Now().UTC(),
		}).Error
	return storeErr("complete task", err)
}

// FailTask records a failure. While retries remain, the task returns to
// pending; once retry_count reaches max_retries it stays failed for good.
func (s *Store) FailTask(ctx context.Context, taskID string, taskErr error) (terminal bool, err error) {
	err = s.transaction(ctx, "fail task", func(tx *gorm.DB) error {
		var task models.WorkTask
		if err := tx.Where("task_id = ?", taskID).First(&task).Error; err != nil {
			return err
		}

		task.RetryCount++
		msg := taskErr.Error()
		updates := map[string]interface{}{
			"retry_count": task.RetryCount,
			"error":       &msg,
		}
		if task.RetryCount >= task.MaxRetries {
			terminal = true
			updates["status"] = models.TaskFailed
			updates["completed_at"] = time.Now().UTC()
		} else {
			updates["status"] = models.TaskPending
			updates["started_at"] = nil
		}
		return tx.Model(&task).Updates(updates).Error
	})
	if err != nil {
		return false, err
	}
	return terminal, nil
}

// ReclaimStaleTasks resets every processing task back to pending.
// Called once at startup: a task still marked processing then belonged
// to a worker that died before its bookkeeping landed.
func (s *Store) ReclaimStaleTasks(ctx context.Context) (int64, error) {
	res := s.conn(ctx).Model(&models.WorkTask{}).
		Where("status = ?", models.TaskProcessing).
		Updates(map[string]interface{}{
			"status":     models.TaskPending,
			"started_at": nil,
		})
	if res.Error != nil {
		return 0, storeErr("reclaim stale tasks", res.Error)
	}
	return res.RowsAffected, nil
}

// GetTask fetches a task by id
func (s *Store) GetTask(ctx context.Context, taskID string) (*models.WorkTask, error) {
	var task models.WorkTask
	err := s.conn(ctx).Where("task_id = ?", taskID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get task", err)
	}
	return &task, nil
}
