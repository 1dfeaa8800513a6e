package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/transhub/mclocal/internal/models"
)

// maxSyncAttempts is the cutoff after which a change drops out of the
// default pending selection. It stays queryable and retryable on demand.
const maxSyncAttempts = 3

// AppendChange appends one immutable change record and returns its id
func (s *Store) AppendChange(ctx context.Context, c *models.OfflineChange) (string, error) {
	if err := validateChange(c); err != nil {
		return "", err
	}
	prepareChange(c)
	if err := s.conn(ctx).Create(c).Error; err != nil {
		return "", storeErr("append change", err)
	}
	return c.ChangeID, nil
}

// AppendChanges appends a batch atomically: either every record lands
// in the log or none do.
func (s *Store) AppendChanges(ctx context.Context, changes []*models.OfflineChange) error {
	for _, c := range changes {
		if err := validateChange(c); err != nil {
			return err
		}
	}
	return s.transaction(ctx, "append changes", func(tx *gorm.DB) error {
		for _, c := range changes {
			prepareChange(c)
			if err := tx.Create(c).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func validateChange(c *models.OfflineChange) error {
	if !models.KnownEntityType(c.EntityType) {
		return &ValidationError{Field: "entity_type", Reason: "unknown entity type " + c.EntityType}
	}
	if c.EntityID == "" {
		return &ValidationError{Field: "entity_id", Reason: "must not be empty"}
	}
	switch c.Operation {
	case models.OpCreate, models.OpUpdate, models.OpDelete, models.OpMerge:
	default:
		return &ValidationError{Field: "operation", Reason: "unknown operation " + string(c.Operation)}
	}
	return nil
}

func prepareChange(c *models.OfflineChange) {
	if c.ChangeID == "" {
		c.ChangeID = uuid.NewString()
	}
	if c.Policy == "" {
		c.Policy = models.PolicyClientWins
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
}

// ListUnsyncedChanges returns pending changes (unsynced, not held and
// under the attempt cutoff), oldest first. entityType narrows the
// selection when non-empty.
func (s *Store) ListUnsyncedChanges(ctx context.Context, entityType string, limit int) ([]models.OfflineChange, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.conn(ctx).
		Where("is_synced = ? AND is_held = ? AND sync_attempts < ?", false, false, maxSyncAttempts)
	if entityType != "" {
		q = q.Where("entity_type = ?", entityType)
	}
	var out []models.OfflineChange
	if err := q.Order("created_at ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, storeErr("list unsynced changes", err)
	}
	return out, nil
}

// exportBatch is the page size AllUnsyncedChanges walks the log with
const exportBatch = 1000

// AllUnsyncedChanges returns every unsynced record, held and
// attempt-exhausted ones included, paging through the log so the full
// transfer set comes back however large it has grown.
func (s *Store) AllUnsyncedChanges(ctx context.Context) ([]models.OfflineChange, error) {
	var out []models.OfflineChange
	for offset := 0; ; offset += exportBatch {
		var page []models.OfflineChange
		err := s.conn(ctx).
			Where("is_synced = ?", false).
			Order("created_at ASC, change_id ASC").
			Limit(exportBatch).
			Offset(offset).
			Find(&page).Error
		if err != nil {
			return nil, storeErr("all unsynced changes", err)
		}
		out = append(out, page...)
		if len(page) < exportBatch {
			return out, nil
		}
	}
}

// FindUnsyncedChange returns the oldest unsynced change for an entity,
// or ErrNotFound. Used by the sync engine to detect local/remote overlap.
func (s *Store) FindUnsyncedChange(ctx context.Context, entityType, entityID string) (*models.OfflineChange, error) {
	var c models.OfflineChange
	err := s.conn(ctx).
		Where("entity_type = ? AND entity_id = ? AND is_synced = ?", entityType, entityID, false).
		Order("created_at ASC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find unsynced change", err)
	}
	return &c, nil
}

// MarkChangesSynced flips is_synced for the given ids. Unknown ids are
// ignored, so acknowledging twice is a harmless no-op. is_synced only
// ever moves false -> true.
func (s *Store) MarkChangesSynced(ctx context.Context, changeIDs []string) error {
	if len(changeIDs) == 0 {
		return nil
	}
	err := s.conn(ctx).Model(&models.OfflineChange{}).
		Where("change_id IN ? AND is_synced = ?", changeIDs, false).
		Updates(map[string]interface{}{
			"is_synced": true,
			"synced_at": time.Now().UTC(),
		}).Error
	return storeErr("mark changes synced", err)
}

// RecordSyncFailure bumps sync_attempts and stores the error for the
// given ids, leaving is_synced untouched so the next run retries them.
func (s *Store) RecordSyncFailure(ctx context.Context, changeIDs []string, syncErr error) error {
	if len(changeIDs) == 0 {
		return nil
	}
	msg := syncErr.Error()
	err := s.conn(ctx).Model(&models.OfflineChange{}).
		Where("change_id IN ?", changeIDs).
		Updates(map[string]interface{}{
			"sync_attempts": gorm.Expr("sync_attempts + 1"),
			"sync_error":    &msg,
		}).Error
	return storeErr("record sync failure", err)
}

// HoldChange pulls a change out of the pending selection and annotates
// it with the reason. A held record is not pushed until an operator
// releases it through RetryChange. Used for manual-policy conflicts.
func (s *Store) HoldChange(ctx context.Context, changeID string, reason error) error {
	msg := reason.Error()
	err := s.conn(ctx).Model(&models.OfflineChange{}).
		Where("change_id = ? AND is_synced = ?", changeID, false).
		Updates(map[string]interface{}{
			"is_held":    true,
			"sync_error": &msg,
		}).Error
	return storeErr("hold change", err)
}

// RetryChange puts an unsynced change back into the pending selection:
// the hold is released, the error cleared and the attempt counter reset,
// so held and attempt-exhausted records alike become pushable again.
// Returns ErrNotFound when no unsynced change has that id.
func (s *Store) RetryChange(ctx context.Context, changeID string) error {
	res := s.conn(ctx).Model(&models.OfflineChange{}).
		Where("change_id = ? AND is_synced = ?", changeID, false).
		Updates(map[string]interface{}{
			"is_held":       false,
			"sync_error":    nil,
			"sync_attempts": 0,
		})
	if res.Error != nil {
		return storeErr("retry change", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// EntityChangeCount is one row of the per-entity summary
type EntityChangeCount struct {
	EntityType string `json:"entityType"`
	Total      int64  `json:"total"`
	Pending    int64  `json:"pending"`
	Synced     int64  `json:"synced"`
}

// OperationCount is one row of the pending-by-operation summary
type OperationCount struct {
	Operation string `json:"operation"`
	Count     int64  `json:"count"`
}

// SummarizeChangesByEntity groups the change log by entity type
func (s *Store) SummarizeChangesByEntity(ctx context.Context) ([]EntityChangeCount, error) {
	var out []EntityChangeCount
	err := s.conn(ctx).Model(&models.OfflineChange{}).
		Select(`entity_type,
			COUNT(*) AS total,
			SUM(CASE WHEN is_synced THEN 0 ELSE 1 END) AS pending,
			SUM(CASE WHEN is_synced THEN 1 ELSE 0 END) AS synced`).
		Group("entity_type").
		Scan(&out).Error
	if err != nil {
		return nil, storeErr("summarize changes by entity", err)
	}
	return out, nil
}

// SummarizePendingByOperation groups unsynced changes by operation
func (s *Store) SummarizePendingByOperation(ctx context.Context) ([]OperationCount, error) {
	var out []OperationCount
	err := s.conn(ctx).Model(&models.OfflineChange{}).
		Select("operation, COUNT(*) AS count").
		Where("is_synced = ?", false).
		Group("operation").
		Scan(&out).Error
	if err != nil {
		return nil, storeErr("summarize pending by operation", err)
	}
	return out, nil
}

// RecentChanges returns the newest records for observability
func (s *Store) RecentChanges(ctx context.Context, limit int) ([]models.OfflineChange, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []models.OfflineChange
	err := s.conn(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, storeErr("recent changes", err)
	}
	return out, nil
}

// DeleteRetiredChanges removes records that are both synced and older
// than cutoff. Unsynced records are never deleted here, whatever their age.
func (s *Store) DeleteRetiredChanges(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.conn(ctx).
		Where("is_synced = ? AND synced_at < ?", true, cutoff).
		Delete(&models.OfflineChange{})
	if res.Error != nil {
		return 0, storeErr("delete retired changes", res.Error)
	}
	return res.RowsAffected, nil
}

// ChangeExists reports whether a change with the same dedup key
// (entity_type, entity_id, operation, created_at) is already in the log
func (s *Store) ChangeExists(ctx context.Context, c *models.OfflineChange) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&models.OfflineChange{}).
		Where("entity_type = ? AND entity_id = ? AND operation = ? AND created_at = ?",
			c.EntityType, c.EntityID, c.Operation, c.CreatedAt).
		Count(&n).Error
	if err != nil {
		return false, storeErr("change exists", err)
	}
	return n > 0, nil
}
