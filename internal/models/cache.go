package models

import (
	"time"

	"gorm.io/datatypes"
)

// ScanCacheEntry is one cached scan result, keyed by a deterministic hash of
// the scan inputs. Rows are upserted per cache key, never duplicated.
type ScanCacheEntry struct {
	CacheKey     string            `gorm:"type:varchar(64);primaryKey" json:"cacheKey"`
	ScanPath     string            `gorm:"type:varchar(1024);not null" json:"scanPath"`
	GameVersion  string            `gorm:"type:varchar(50)" json:"gameVersion,omitempty"`
	ModLoader    string            `gorm:"type:varchar(50)" json:"modLoader,omitempty"`
	Payload      datatypes.JSONMap `gorm:"type:jsonb" json:"payload"`
	Size         int64             `gorm:"default:0" json:"size"`
	CreatedAt    time.Time         `json:"createdAt"`
	ExpiresAt    time.Time         `gorm:"index:idx_cache_expires" json:"expiresAt"`
	LastAccessed time.Time         `json:"lastAccessed"`
	AccessCount  int               `gorm:"default:0" json:"accessCount"`
	IsValid      bool              `gorm:"default:true" json:"isValid"`
}

// TableName specifies the table name
func (ScanCacheEntry) TableName() string {
	return "scan_cache"
}
