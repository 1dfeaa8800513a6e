package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/transhub/mclocal/internal/models"
)

// UpsertDiscovery saves a discovered mod keyed by content hash.
// Re-scanning identical content refreshes metadata and timestamps on the
// existing row; a new hash inserts a new row with a fresh discovery id.
func (s *Store) UpsertDiscovery(ctx context.Context, d *models.ModDiscovery) error {
	if d.ContentHash == "" {
		return &ValidationError{Field: "content_hash", Reason: "must not be empty"}
	}
	if d.ModID == "" {
		return &ValidationError{Field: "mod_id", Reason: "must not be empty"}
	}

	return s.transaction(ctx, "upsert discovery", func(tx *gorm.DB) error {
		var existing models.ModDiscovery
		err := tx.Where("content_hash = ?", d.ContentHash).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			d.DiscoveryID = uuid.NewString()
			d.DiscoveredAt = time.Now().UTC()
			return tx.Create(d).Error
		case err != nil:
			return err
		default:
			d.DiscoveryID = existing.DiscoveryID
			return tx.Model(&existing).Updates(map[string]interface{}{
				"mod_id":        d.ModID,
				"name":          d.Name,
				"version":       d.Version,
				"source_path":   d.SourcePath,
				"size":          d.Size,
				"metadata":      d.Metadata,
				"entry_count":   d.EntryCount,
				"discovered_at": time.Now().UTC(),
			}).Error
		}
	})
}

// FindDiscoveryByHash fetches a discovery by its content hash
func (s *Store) FindDiscoveryByHash(ctx context.Context, contentHash string) (*models.ModDiscovery, error) {
	var d models.ModDiscovery
	err := s.conn(ctx).Where("content_hash = ?", contentHash).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find discovery by hash", err)
	}
	return &d, nil
}

// GetDiscovery fetches a single discovery by id
func (s *Store) GetDiscovery(ctx context.Context, discoveryID string) (*models.ModDiscovery, error) {
	var d models.ModDiscovery
	err := s.conn(ctx).Where("discovery_id = ?", discoveryID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get discovery", err)
	}
	return &d, nil
}

// ListDiscoveries returns discoveries ordered by discovery time, newest first
func (s *Store) ListDiscoveries(ctx context.Context, limit, offset int) ([]models.ModDiscovery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.ModDiscovery
	err := s.conn(ctx).
		Order("discovered_at DESC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, storeErr("list discoveries", err)
	}
	return out, nil
}

// ListPendingUploads returns discoveries not yet uploaded to the hub
func (s *Store) ListPendingUploads(ctx context.Context, limit int) ([]models.ModDiscovery, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.ModDiscovery
	err := s.conn(ctx).
		Where("is_uploaded = ?", false).
		Order("discovered_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, storeErr("list pending uploads", err)
	}
	return out, nil
}

// MarkDiscoveryUploaded records the upload outcome for a discovery
func (s *Store) MarkDiscoveryUploaded(ctx context.Context, discoveryID string, uploadErr error) error {
	updates := map[string]interface{}{
		"is_processed": true,
		"processed_at": time.Now().UTC(),
	}
	if uploadErr == nil {
		updates["is_uploaded"] = true
		updates["uploaded_at"] = time.Now().UTC()
		updates["upload_error"] = nil
	} else {
		msg := uploadErr.Error()
		updates["upload_error"] = &msg
	}

	err := s.conn(ctx).Model(&models.ModDiscovery{}).
		Where("discovery_id = ?", discoveryID).
		Updates(updates).Error
	return storeErr("mark discovery uploaded", err)
}
