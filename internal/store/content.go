package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/transhub/mclocal/internal/models"
)

// CreateProject inserts a new localization project
func (s *Store) CreateProject(ctx context.Context, p *models.Project) error {
	if p.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if p.TargetLanguage == "" {
		return &ValidationError{Field: "target_language", Reason: "must not be empty"}
	}
	if p.ProjectID == "" {
		p.ProjectID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.conn(ctx).Create(p).Error; err != nil {
		return storeErr("create project", err)
	}
	return nil
}

// UpsertProject writes a project coming from the hub, replacing any
// local copy with the same id.
func (s *Store) UpsertProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now().UTC()
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "source_language", "target_language", "scan_paths", "updated_at"}),
	}).Create(p).Error
	return storeErr("upsert project", err)
}

// ListProjects returns all projects
func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	var out []models.Project
	if err := s.conn(ctx).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, storeErr("list projects", err)
	}
	return out, nil
}

// GetTranslationEntry fetches one cached translation entry
func (s *Store) GetTranslationEntry(ctx context.Context, entryID string) (*models.TranslationEntry, error) {
	var e models.TranslationEntry
	err := s.conn(ctx).Where("entry_id = ?", entryID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get translation entry", err)
	}
	return &e, nil
}

// ListTranslationEntries returns cached entries for a mod and language
func (s *Store) ListTranslationEntries(ctx context.Context, modID, language string, limit, offset int) ([]models.TranslationEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var out []models.TranslationEntry
	err := s.conn(ctx).
		Where("mod_id = ? AND language = ?", modID, language).
		Order("translation_key ASC").
		Limit(limit).Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, storeErr("list translation entries", err)
	}
	return out, nil
}

// UpdateTranslationText applies an edit to a cached entry and returns
// the previous text so the caller can record it in the change log.
func (s *Store) UpdateTranslationText(ctx context.Context, entryID, text, status string) (*models.TranslationEntry, string, error) {
	var entry models.TranslationEntry
	var oldText string

	err := s.transaction(ctx, "update translation", func(tx *gorm.DB) error {
		if err := tx.Where("entry_id = ?", entryID).First(&entry).Error; err != nil {
			return err
		}
		oldText = entry.TranslatedText
		entry.TranslatedText = text
		if status != "" {
			entry.Status = status
		}
		entry.UpdatedAt = time.Now().UTC()
		return tx.Model(&entry).Updates(map[string]interface{}{
			"translated_text": entry.TranslatedText,
			"status":          entry.Status,
			"updated_at":      entry.UpdatedAt,
		}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	return &entry, oldText, nil
}

// UpsertTranslationEntry writes an entry pulled from the hub, keyed by
// (mod, language, translation key)
func (s *Store) UpsertTranslationEntry(ctx context.Context, e *models.TranslationEntry) error {
	now := time.Now().UTC()
	e.UpdatedAt = now
	e.CachedAt = now

	return s.transaction(ctx, "upsert translation entry", func(tx *gorm.DB) error {
		var existing models.TranslationEntry
		err := tx.Where("mod_id = ? AND language = ? AND translation_key = ?",
			e.ModID, e.Language, e.TranslationKey).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if e.EntryID == "" {
				e.EntryID = uuid.NewString()
			}
			return tx.Create(e).Error
		case err != nil:
			return err
		default:
			e.EntryID = existing.EntryID
			return tx.Model(&existing).Updates(map[string]interface{}{
				"source_text":     e.SourceText,
				"translated_text": e.TranslatedText,
				"status":          e.Status,
				"updated_at":      e.UpdatedAt,
				"cached_at":       e.CachedAt,
			}).Error
		}
	})
}
