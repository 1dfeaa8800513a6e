// Package store is the single owner of persisted state. Every component
// mutates rows through it, inside scoped transactions, and any database
// failure surfaces as a typed *StoreError.
package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/transhub/mclocal/internal/database"
	"github.com/transhub/mclocal/internal/models"
)

// Store provides transactional access to all persisted entities
type Store struct {
	db *database.DB
}

// New creates a store over an open database handle
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// Migrate synchronizes the schema for all entities
func (s *Store) Migrate() error {
	return storeErr("migrate", s.db.AutoMigrate(models.All()...))
}

// txKey carries an open transaction through a context so nested store
// calls join it instead of starting their own
type txKey struct{}

// Atomic runs fn with every store call made through its context joined
// into a single transaction: either all writes commit or none do.
// Callers use it to pair an entity write with its change record.
// Nested Atomic calls reuse the outer transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return s.transaction(ctx, "atomic", func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// transaction runs fn atomically; a returned error rolls everything back
func (s *Store) transaction(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := s.conn(ctx).Transaction(fn)
	if err == nil {
		return nil
	}
	var verr *ValidationError
	var serr *StoreError
	if errors.As(err, &verr) || errors.As(err, &serr) || errors.Is(err, ErrNotFound) {
		return err
	}
	return storeErr(op, err)
}

// Statistics aggregates row counts across all tracked tables
type Statistics struct {
	CacheEntries    int64 `json:"cacheEntries"`
	Discoveries     int64 `json:"discoveries"`
	QueueTasks      int64 `json:"queueTasks"`
	Changes         int64 `json:"changes"`
	Projects        int64 `json:"projects"`
	Translations    int64 `json:"translations"`
	SyncRuns        int64 `json:"syncRuns"`
	PendingTasks    int64 `json:"pendingTasks"`
	PendingUploads  int64 `json:"pendingUploads"`
	UnsyncedChanges int64 `json:"unsyncedChanges"`
}

// GetStatistics returns row counts per entity plus pending-work counters
func (s *Store) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{}
	counts := []struct {
		model interface{}
		dst   *int64
	}{
		{&models.ScanCacheEntry{}, &stats.CacheEntries},
		{&models.ModDiscovery{}, &stats.Discoveries},
		{&models.WorkTask{}, &stats.QueueTasks},
		{&models.OfflineChange{}, &stats.Changes},
		{&models.Project{}, &stats.Projects},
		{&models.TranslationEntry{}, &stats.Translations},
		{&models.SyncRun{}, &stats.SyncRuns},
	}
	for _, c := range counts {
		if err := s.conn(ctx).Model(c.model).Count(c.dst).Error; err != nil {
			return nil, storeErr("statistics", err)
		}
	}

	if err := s.conn(ctx).Model(&models.WorkTask{}).
		Where("status = ?", models.TaskPending).
		Count(&stats.PendingTasks).Error; err != nil {
		return nil, storeErr("statistics", err)
	}
	if err := s.conn(ctx).Model(&models.ModDiscovery{}).
		Where("is_uploaded = ?", false).
		Count(&stats.PendingUploads).Error; err != nil {
		return nil, storeErr("statistics", err)
	}
	if err := s.conn(ctx).Model(&models.OfflineChange{}).
		Where("is_synced = ?", false).
		Count(&stats.UnsyncedChanges).Error; err != nil {
		return nil, storeErr("statistics", err)
	}
	return stats, nil
}
