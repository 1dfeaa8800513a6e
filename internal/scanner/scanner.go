// Package scanner walks mod directories, fingerprints the jars it finds
// and turns them into discovery records ready for upload.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/transhub/mclocal/internal/cache"
	"github.com/transhub/mclocal/internal/models"
	"github.com/transhub/mclocal/internal/queue"
	"github.com/transhub/mclocal/internal/store"
	"github.com/transhub/mclocal/internal/tracker"
)

// DiscoveredMod is one jar found during a scan
type DiscoveredMod struct {
	ModID       string `json:"modId"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	SourcePath  string `json:"sourcePath"`
	ContentHash string `json:"contentHash"`
	Size        int64  `json:"size"`
}

// Scanner finds mods under a directory
type Scanner interface {
	Scan(ctx context.Context, root string) ([]DiscoveredMod, error)
}

// FSScanner walks the filesystem looking for .jar files and hashes
// their content
type FSScanner struct{}

// versionSuffix matches a trailing version in a jar filename, e.g.
// "jei-1.20.1-15.2.0.27" splits into ("jei", "1.20.1-15.2.0.27").
var versionSuffix = regexp.MustCompile(`^(.*?)[-_](\d[\w.+-]*)$`)

// Scan walks root and returns every readable .jar, skipping files it
// cannot open rather than aborting the whole scan
func (FSScanner) Scan(ctx context.Context, root string) ([]DiscoveredMod, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan path %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan path %s is not a directory", root)
	}

	var found []DiscoveredMod
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("⚠️ Skipping %s: %v", path, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".jar") {
			return nil
		}

		mod, err := fingerprint(path)
		if err != nil {
			log.Printf("⚠️ Skipping %s: %v", path, err)
			return nil
		}
		found = append(found, mod)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// fingerprint hashes a jar and derives mod identity from its filename
func fingerprint(path string) (DiscoveredMod, error) {
	f, err := os.Open(path)
	if err != nil {
		return DiscoveredMod{}, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return DiscoveredMod{}, err
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name, version := splitNameVersion(base)

	return DiscoveredMod{
		ModID:       strings.ToLower(strings.ReplaceAll(name, " ", "_")),
		Name:        name,
		Version:     version,
		SourcePath:  path,
		ContentHash: hex.EncodeToString(h.Sum(nil)),
		Size:        size,
	}, nil
}

func splitNameVersion(base string) (name, version string) {
	if m := versionSuffix.FindStringSubmatch(base); m != nil && m[1] != "" {
		return m[1], m[2]
	}
	return base, ""
}

// Service runs full scans: cache check, filesystem walk, discovery
// persistence, change capture and upload scheduling
type Service struct {
	scanner Scanner
	store   *store.Store
	tracker *tracker.Tracker
	cache   *cache.ScanCache
	queue   *queue.Queue
}

// NewService wires a scan service over the given components
func NewService(sc Scanner, st *store.Store, tr *tracker.Tracker, c *cache.ScanCache, q *queue.Queue) *Service {
	if sc == nil {
		sc = FSScanner{}
	}
	return &Service{scanner: sc, store: st, tracker: tr, cache: c, queue: q}
}

// Result is the outcome of one scan
type Result struct {
	ScanPath   string          `json:"scanPath"`
	FromCache  bool            `json:"fromCache"`
	ModCount   int             `json:"modCount"`
	NewMods    int             `json:"newMods"`
	Mods       []DiscoveredMod `json:"mods,omitempty"`
	DurationMs int64           `json:"durationMs"`
}

// RunScan scans a directory. A fresh cache entry answers immediately;
// otherwise the walk runs, discoveries are upserted by content hash,
// new ones are recorded in the change log and scheduled for upload, and
// the summary is cached for next time.
func (s *Service) RunScan(ctx context.Context, scanPath, gameVersion, modLoader string, force bool) (*Result, error) {
	start := time.Now()

	if !force {
		if payload, err := s.cache.Get(ctx, scanPath, gameVersion, modLoader); err == nil {
			res := &Result{ScanPath: scanPath, FromCache: true, DurationMs: time.Since(start).Milliseconds()}
			if n, ok := payload["mod_count"].(float64); ok {
				res.ModCount = int(n)
			}
			return res, nil
		}
	}

	mods, err := s.scanner.Scan(ctx, scanPath)
	if err != nil {
		return nil, err
	}

	newMods := 0
	for i := range mods {
		m := mods[i]
		d := &models.ModDiscovery{
			ModID:       m.ModID,
			Name:        m.Name,
			Version:     m.Version,
			SourcePath:  m.SourcePath,
			ContentHash: m.ContentHash,
			Size:        m.Size,
			Metadata: datatypes.JSONMap{
				"game_version": gameVersion,
				"mod_loader":   modLoader,
			},
		}

		known, err := s.discoveryExists(ctx, m.ContentHash)
		if err != nil {
			return nil, err
		}

		// Discovery and its change record commit together; scheduling
		// the upload is best effort, the pending-uploads sweep picks up
		// anything that never got a task
		err = s.store.Atomic(ctx, func(ctx context.Context) error {
			if err := s.store.UpsertDiscovery(ctx, d); err != nil {
				return err
			}
			if known {
				return nil
			}
			_, err := s.tracker.Track(ctx, models.EntityMod, d.DiscoveryID, models.OpCreate, datatypes.JSONMap{
				"mod_id":       m.ModID,
				"name":         m.Name,
				"version":      m.Version,
				"content_hash": m.ContentHash,
			}, "")
			return err
		})
		if err != nil {
			return nil, err
		}
		if known {
			continue
		}
		newMods++

		if _, err := s.queue.Enqueue(ctx, queue.TaskUpload, datatypes.JSONMap{
			"discovery_id": d.DiscoveryID,
		}, 0); err != nil {
			log.Printf("⚠️ Could not schedule upload for %s: %v", m.ModID, err)
		}
	}

	res := &Result{
		ScanPath:   scanPath,
		ModCount:   len(mods),
		NewMods:    newMods,
		Mods:       mods,
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err := s.cache.PutDefault(ctx, scanPath, gameVersion, modLoader, datatypes.JSONMap{
		"mod_count":  len(mods),
		"scanned_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		log.Printf("⚠️ Could not cache scan result for %s: %v", scanPath, err)
	}

	log.Printf("📦 Scanned %s: %d mods, %d new (%dms)", scanPath, res.ModCount, res.NewMods, res.DurationMs)
	return res, nil
}

func (s *Service) discoveryExists(ctx context.Context, contentHash string) (bool, error) {
	_, err := s.store.FindDiscoveryByHash(ctx, contentHash)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TaskHandler adapts RunScan to the worker pool
func (s *Service) TaskHandler(ctx context.Context, task *models.WorkTask) (datatypes.JSONMap, error) {
	scanPath, _ := task.Payload["scan_path"].(string)
	if scanPath == "" {
		return nil, fmt.Errorf("scan task missing scan_path")
	}
	gameVersion, _ := task.Payload["game_version"].(string)
	modLoader, _ := task.Payload["mod_loader"].(string)
	force, _ := task.Payload["force"].(bool)

	res, err := s.RunScan(ctx, scanPath, gameVersion, modLoader, force)
	if err != nil {
		return nil, err
	}
	return datatypes.JSONMap{
		"mod_count": res.ModCount,
		"new_mods":  res.NewMods,
	}, nil
}
