package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncDirection defines which way a replication run moves data
type SyncDirection string

const (
	DirectionUpload        SyncDirection = "upload"
	DirectionDownload      SyncDirection = "download"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// SyncConfig is the single active sync configuration row. Saving a new
// configuration replaces the old one instead of accumulating rows.
type SyncConfig struct {
	ConfigID       string         `gorm:"type:varchar(36);primaryKey" json:"configId"`
	ServerURL      string         `gorm:"type:varchar(500);not null" json:"serverUrl"`
	APIKey         string         `gorm:"type:varchar(255)" json:"apiKey,omitempty"`
	AutoSync       bool           `gorm:"default:true" json:"autoSync"`
	SyncInterval   int            `gorm:"default:300" json:"syncInterval"` // seconds
	ConflictPolicy ConflictPolicy `gorm:"type:varchar(20);default:'client_wins'" json:"conflictPolicy"`
	LastSyncAt     *time.Time     `json:"lastSyncAt,omitempty"`
	LastSyncStatus string         `gorm:"type:varchar(50)" json:"lastSyncStatus,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// TableName specifies the table name
func (SyncConfig) TableName() string {
	return "sync_config"
}

// SyncRun records one replication attempt. A run is opened when the
// attempt starts and sealed exactly once, success or failure.
type SyncRun struct {
	RunID             string            `gorm:"type:varchar(36);primaryKey" json:"runId"`
	Kind              string            `gorm:"type:varchar(50);not null" json:"kind"`
	Direction         SyncDirection     `gorm:"type:varchar(20);not null" json:"direction"`
	ItemsSent         int               `gorm:"default:0" json:"itemsSent"`
	ItemsReceived     int               `gorm:"default:0" json:"itemsReceived"`
	ConflictsResolved int               `gorm:"default:0" json:"conflictsResolved"`
	ErrorCount        int               `gorm:"default:0" json:"errorCount"`
	Detail            datatypes.JSONMap `gorm:"type:jsonb" json:"detail,omitempty"`
	StartedAt         time.Time         `gorm:"index" json:"startedAt"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
	DurationMs        int64             `gorm:"default:0" json:"durationMs"`
}

// TableName specifies the table name
func (SyncRun) TableName() string {
	return "sync_runs"
}
