package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/transhub/mclocal/internal/models"
)

// PutCache upserts a cache entry under its key. A second put with the
// same key replaces payload and expiry instead of inserting a new row.
func (s *Store) PutCache(ctx context.Context, entry *models.ScanCacheEntry) error {
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.LastAccessed = now
	entry.IsValid = true

	return s.transaction(ctx, "put cache", func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"scan_path", "game_version", "mod_loader", "payload", "size",
				"created_at", "expires_at", "last_accessed", "is_valid",
			}),
		}).Create(entry).Error
	})
}

// GetCache returns the payload for key, honoring expiry: an entry past
// expires_at is deactivated and reported as a miss, never served stale.
// Hits bump the access bookkeeping.
func (s *Store) GetCache(ctx context.Context, key string) (datatypes.JSONMap, error) {
	var entry models.ScanCacheEntry
	var payload datatypes.JSONMap

	err := s.transaction(ctx, "get cache", func(tx *gorm.DB) error {
		err := tx.Where("cache_key = ? AND is_valid = ?", key, true).First(&entry).Error
		if err != nil {
			return err
		}

		if !entry.ExpiresAt.IsZero() && !time.Now().UTC().Before(entry.ExpiresAt) {
			if err := tx.Model(&entry).Update("is_valid", false).Error; err != nil {
				return err
			}
			return gorm.ErrRecordNotFound
		}

		payload = entry.Payload
		return tx.Model(&entry).Updates(map[string]interface{}{
			"last_accessed": time.Now().UTC(),
			"access_count":  gorm.Expr("access_count + 1"),
		}).Error
	})

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return payload, nil
}

// SweepCache physically deletes entries that are expired or already
// marked invalid. Returns the number of rows removed.
func (s *Store) SweepCache(ctx context.Context) (int64, error) {
	res := s.conn(ctx).
		Where("expires_at < ? OR is_valid = ?", time.Now().UTC(), false).
		Delete(&models.ScanCacheEntry{})
	if res.Error != nil {
		return 0, storeErr("sweep cache", res.Error)
	}
	return res.RowsAffected, nil
}
