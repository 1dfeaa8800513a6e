package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/transhub/mclocal/internal/models"
)

// GetSyncConfig returns the active sync configuration, or ErrNotFound
// on a fresh install.
func (s *Store) GetSyncConfig(ctx context.Context) (*models.SyncConfig, error) {
	var cfg models.SyncConfig
	err := s.conn(ctx).Order("created_at DESC").First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get sync config", err)
	}
	return &cfg, nil
}

// ReplaceSyncConfig swaps the configuration atomically: the old row is
// deleted and the new one inserted in the same transaction.
func (s *Store) ReplaceSyncConfig(ctx context.Context, cfg *models.SyncConfig) error {
	if cfg.ServerURL == "" {
		return &ValidationError{Field: "server_url", Reason: "must not be empty"}
	}
	switch cfg.ConflictPolicy {
	case models.PolicyClientWins, models.PolicyServerWins, models.PolicyNewestWins, models.PolicyManual:
	case "":
		cfg.ConflictPolicy = models.PolicyClientWins
	default:
		return &ValidationError{Field: "conflict_policy", Reason: "unknown policy " + string(cfg.ConflictPolicy)}
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 300
	}

	cfg.ConfigID = uuid.NewString()
	cfg.CreatedAt = time.Now().UTC()
	return s.transaction(ctx, "replace sync config", func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.SyncConfig{}).Error; err != nil {
			return err
		}
		return tx.Create(cfg).Error
	})
}

// UpdateSyncOutcome stamps the configuration with the latest run outcome
func (s *Store) UpdateSyncOutcome(ctx context.Context, status string) error {
	err := s.conn(ctx).Model(&models.SyncConfig{}).
		Where("1 = 1").
		Updates(map[string]interface{}{
			"last_sync_at":     time.Now().UTC(),
			"last_sync_status": status,
		}).Error
	return storeErr("update sync outcome", err)
}

// OpenSyncRun creates a new run record for one replication attempt
func (s *Store) OpenSyncRun(ctx context.Context, kind string, direction models.SyncDirection) (*models.SyncRun, error) {
	run := &models.SyncRun{
		RunID:     uuid.NewString(),
		Kind:      kind,
		Direction: direction,
		StartedAt: time.Now().UTC(),
	}
	if err := s.conn(ctx).Create(run).Error; err != nil {
		return nil, storeErr("open sync run", err)
	}
	return run, nil
}

// SealSyncRun closes a run with its final counters. A run is sealed
// exactly once and immutable afterwards.
func (s *Store) SealSyncRun(ctx context.Context, run *models.SyncRun) error {
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.DurationMs = now.Sub(run.StartedAt).Milliseconds()

	err := s.conn(ctx).Model(&models.SyncRun{}).
		Where("run_id = ? AND completed_at IS NULL", run.RunID).
		Updates(map[string]interface{}{
			"items_sent":         run.ItemsSent,
			"items_received":     run.ItemsReceived,
			"conflicts_resolved": run.ConflictsResolved,
			"error_count":        run.ErrorCount,
			"detail":             run.Detail,
			"completed_at":       now,
			"duration_ms":        run.DurationMs,
		}).Error
	return storeErr("seal sync run", err)
}

// RecentSyncRuns returns replication history, newest first
func (s *Store) RecentSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []models.SyncRun
	err := s.conn(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, storeErr("recent sync runs", err)
	}
	return out, nil
}

// LastCheckpoint returns the completion time of the most recent
// error-free run that pulled, bounding what "changed since" means for
// the next pull. Upload-only runs never advance it: a remote change
// committed during one would otherwise fall between checkpoints and be
// lost. The zero time means no successful pull exists yet.
func (s *Store) LastCheckpoint(ctx context.Context) (time.Time, error) {
	var run models.SyncRun
	err := s.conn(ctx).
		Where("completed_at IS NOT NULL AND error_count = 0 AND direction IN ?",
			[]models.SyncDirection{models.DirectionDownload, models.DirectionBidirectional}).
		Order("completed_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, storeErr("last checkpoint", err)
	}
	return *run.CompletedAt, nil
}

// AppendRunDetail merges a key into a run's detail blob in memory.
// Callers persist via SealSyncRun.
func AppendRunDetail(run *models.SyncRun, key string, value interface{}) {
	if run.Detail == nil {
		run.Detail = datatypes.JSONMap{}
	}
	run.Detail[key] = value
}
