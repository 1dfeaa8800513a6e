package models

import (
	"time"

	"gorm.io/datatypes"
)

// TaskStatus is the work queue state machine:
// pending -> processing -> completed | failed.
// A failed task goes back to pending until max_retries is exhausted.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// WorkTask is a queued unit of background work. Ordering is priority
// descending, then created_at ascending.
type WorkTask struct {
	TaskID     string            `gorm:"type:varchar(36);primaryKey" json:"taskId"`
	TaskType   string            `gorm:"type:varchar(100);not null;index:idx_queue_pending" json:"taskType"`
	Payload    datatypes.JSONMap `gorm:"type:jsonb" json:"payload"`
	Priority   int               `gorm:"default:0;index:idx_queue_pending" json:"priority"`
	Status     TaskStatus        `gorm:"type:varchar(20);default:'pending';index:idx_queue_pending" json:"status"`
	RetryCount int               `gorm:"default:0" json:"retryCount"`
	MaxRetries int               `gorm:"default:3" json:"maxRetries"`
	Result     datatypes.JSONMap `gorm:"type:jsonb" json:"result,omitempty"`
	Error      *string           `gorm:"type:text" json:"error,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// TableName specifies the table name
func (WorkTask) TableName() string {
	return "work_queue"
}
