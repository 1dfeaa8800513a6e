package models

import (
	"time"

	"gorm.io/datatypes"
)

// ChangeOperation is the kind of mutation a change record describes
type ChangeOperation string

const (
	OpCreate ChangeOperation = "create"
	OpUpdate ChangeOperation = "update"
	OpDelete ChangeOperation = "delete"
	OpMerge  ChangeOperation = "merge"
)

// ConflictPolicy selects how two conflicting changes to the same
// entity are resolved.
type ConflictPolicy string

const (
	PolicyClientWins ConflictPolicy = "client_wins"
	PolicyServerWins ConflictPolicy = "server_wins"
	PolicyNewestWins ConflictPolicy = "newest_wins"
	PolicyManual     ConflictPolicy = "manual"
)

// Tracked entity types. The set is fixed; anything else is rejected
// before it reaches the store.
const (
	EntityProject     = "project"
	EntityMod         = "mod"
	EntityTranslation = "translation"
	EntityTerminology = "terminology"
	EntitySetting     = "setting"
)

// KnownEntityType reports whether t is one of the tracked entity types
func KnownEntityType(t string) bool {
	switch t {
	case EntityProject, EntityMod, EntityTranslation, EntityTerminology, EntitySetting:
		return true
	}
	return false
}

// OfflineChange is one append-only change log record. After creation the
// only legal mutations are its sync bookkeeping: flipping is_synced to
// true, bumping sync_attempts, or holding/releasing the record; the
// captured mutation itself is never rewritten.
type OfflineChange struct {
	ChangeID     string            `gorm:"type:varchar(36);primaryKey" json:"changeId"`
	EntityType   string            `gorm:"type:varchar(50);not null;index:idx_change_entity" json:"entityType"`
	EntityID     string            `gorm:"type:varchar(255);not null;index:idx_change_entity" json:"entityId"`
	Operation    ChangeOperation   `gorm:"type:varchar(20);not null" json:"operation"`
	Payload      datatypes.JSONMap `gorm:"type:jsonb" json:"payload"`
	Policy       ConflictPolicy    `gorm:"type:varchar(20);default:'client_wins'" json:"conflictPolicy"`
	IsSynced     bool              `gorm:"default:false;index:idx_change_sync" json:"isSynced"`
	IsHeld       bool              `gorm:"default:false" json:"isHeld"`
	SyncAttempts int               `gorm:"default:0" json:"syncAttempts"`
	SyncError    *string           `gorm:"type:text" json:"syncError,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	SyncedAt     *time.Time        `json:"syncedAt,omitempty"`
}

// TableName specifies the table name
func (OfflineChange) TableName() string {
	return "offline_changes"
}
