package models

import (
	"time"

	"gorm.io/datatypes"
)

// Project is a localization project the client works on offline
type Project struct {
	ProjectID      string            `gorm:"type:varchar(36);primaryKey" json:"projectId"`
	Name           string            `gorm:"type:varchar(255);not null" json:"name"`
	SourceLanguage string            `gorm:"type:varchar(20);default:'en_us'" json:"sourceLanguage"`
	TargetLanguage string            `gorm:"type:varchar(20);not null" json:"targetLanguage"`
	ScanPaths      datatypes.JSONMap `gorm:"type:jsonb" json:"scanPaths,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// TableName specifies the table name
func (Project) TableName() string {
	return "projects"
}

// TranslationEntry is one cached translation string for a discovered mod.
// Edits go through the change tracker so they replicate to the hub.
type TranslationEntry struct {
	EntryID        string    `gorm:"type:varchar(36);primaryKey" json:"entryId"`
	ModID          string    `gorm:"type:varchar(255);not null;index:idx_entry_mod_lang" json:"modId"`
	Language       string    `gorm:"type:varchar(20);not null;index:idx_entry_mod_lang" json:"language"`
	TranslationKey string    `gorm:"type:varchar(512);not null" json:"translationKey"`
	SourceText     string    `gorm:"type:text" json:"sourceText"`
	TranslatedText string    `gorm:"type:text" json:"translatedText"`
	Status         string    `gorm:"type:varchar(20);default:'pending'" json:"status"`
	UpdatedAt      time.Time `json:"updatedAt"`
	CachedAt       time.Time `json:"cachedAt"`
}

// TableName specifies the table name
func (TranslationEntry) TableName() string {
	return "translation_entries"
}

// All returns every model registered for schema migration
func All() []interface{} {
	return []interface{}{
		&ScanCacheEntry{},
		&ModDiscovery{},
		&WorkTask{},
		&OfflineChange{},
		&SyncConfig{},
		&SyncRun{},
		&Project{},
		&TranslationEntry{},
	}
}
