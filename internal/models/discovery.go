package models

import (
	"time"

	"gorm.io/datatypes"
)

// ModDiscovery records one mod found by a scan. ContentHash is the
// idempotency key: re-discovering the same content updates the row
// instead of duplicating it.
type ModDiscovery struct {
	DiscoveryID string            `gorm:"type:varchar(36);primaryKey" json:"discoveryId"`
	ModID       string            `gorm:"type:varchar(255);not null;index" json:"modId"`
	Name        string            `gorm:"type:varchar(255);not null" json:"name"`
	Version     string            `gorm:"type:varchar(100)" json:"version"`
	SourcePath  string            `gorm:"type:varchar(1024);not null" json:"sourcePath"`
	ContentHash string            `gorm:"type:varchar(64);not null;uniqueIndex:idx_discovery_hash" json:"contentHash"`
	Size        int64             `gorm:"default:0" json:"size"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	EntryCount  int               `gorm:"default:0" json:"entryCount"`
	IsProcessed bool              `gorm:"default:false" json:"isProcessed"`
	IsUploaded  bool              `gorm:"default:false;index:idx_discovery_uploaded" json:"isUploaded"`
	UploadError *string           `gorm:"type:text" json:"uploadError,omitempty"`

	DiscoveredAt time.Time  `json:"discoveredAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	UploadedAt   *time.Time `json:"uploadedAt,omitempty"`
}

// TableName specifies the table name
func (ModDiscovery) TableName() string {
	return "mod_discoveries"
}
