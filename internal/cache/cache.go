// Package cache memoizes scan results keyed by the scan parameters, so
// repeated scans of an unchanged directory skip the filesystem walk.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/transhub/mclocal/internal/models"
	"github.com/transhub/mclocal/internal/store"
)

// ScanCache is a TTL cache for scan results, backed by the database so
// entries survive restarts
type ScanCache struct {
	store      *store.Store
	defaultTTL time.Duration
}

// New creates a scan cache with the given default TTL in hours
func New(st *store.Store, ttlHours int) *ScanCache {
	if ttlHours <= 0 {
		ttlHours = 24
	}
	return &ScanCache{
		store:      st,
		defaultTTL: time.Duration(ttlHours) * time.Hour,
	}
}

// Key derives the deterministic cache key for a scan request
func Key(scanPath, gameVersion, modLoader string) string {
	h := sha256.Sum256([]byte(scanPath + "|" + gameVersion + "|" + modLoader))
	return hex.EncodeToString(h[:])
}

// Get returns the cached payload for the scan parameters, or
// store.ErrNotFound on a miss or an expired entry
func (c *ScanCache) Get(ctx context.Context, scanPath, gameVersion, modLoader string) (datatypes.JSONMap, error) {
	return c.store.GetCache(ctx, Key(scanPath, gameVersion, modLoader))
}

// Put stores a scan result. A non-positive ttl stores an entry that is
// already expired, which the next Get reports as a miss.
func (c *ScanCache) Put(ctx context.Context, scanPath, gameVersion, modLoader string, payload datatypes.JSONMap, ttl time.Duration) error {
	entry := &models.ScanCacheEntry{
		CacheKey:    Key(scanPath, gameVersion, modLoader),
		ScanPath:    scanPath,
		GameVersion: gameVersion,
		ModLoader:   modLoader,
		Payload:     payload,
		Size:        payloadSize(payload),
		ExpiresAt:   time.Now().UTC().Add(ttl),
	}
	return c.store.PutCache(ctx, entry)
}

// payloadSize reports the serialized byte size of a payload
func payloadSize(payload datatypes.JSONMap) int64 {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

// PutDefault stores a scan result under the configured default TTL
func (c *ScanCache) PutDefault(ctx context.Context, scanPath, gameVersion, modLoader string, payload datatypes.JSONMap) error {
	return c.Put(ctx, scanPath, gameVersion, modLoader, payload, c.defaultTTL)
}

// Sweep removes expired and invalidated entries, returning the count
func (c *ScanCache) Sweep(ctx context.Context) (int64, error) {
	return c.store.SweepCache(ctx)
}
