// Package sync reconciles local state with the hub server: it pushes the
// pending change log and queued uploads, pulls remote updates since the
// last checkpoint, and resolves collisions through the conflict resolver.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/transhub/mclocal/internal/config"
	"github.com/transhub/mclocal/internal/models"
	"github.com/transhub/mclocal/internal/queue"
	"github.com/transhub/mclocal/internal/store"
	"github.com/transhub/mclocal/internal/tracker"
)

// clientFactory builds a hub client from the active configuration.
// Tests substitute it to point at a fake peer.
type clientFactory func(cfg *models.SyncConfig, timeout time.Duration) *Client

// Engine orchestrates replication runs and the auto-sync loop
type Engine struct {
	mu sync.RWMutex

	store     *store.Store
	tracker   *tracker.Tracker
	queue     *queue.Queue
	defaults  config.SyncDefaults
	newClient clientFactory

	isRunning      bool
	syncInProgress bool
	lastSync       time.Time

	stopChan chan struct{}
	doneChan chan struct{}
	cancel   context.CancelFunc
}

// NewEngine creates a sync engine over the given components
func NewEngine(st *store.Store, tr *tracker.Tracker, q *queue.Queue, defaults config.SyncDefaults) *Engine {
	return &Engine{
		store:    st,
		tracker:  tr,
		queue:    q,
		defaults: defaults,
		newClient: func(cfg *models.SyncConfig, timeout time.Duration) *Client {
			return NewClient(cfg.ServerURL, cfg.APIKey, timeout)
		},
	}
}

// Start launches the auto-sync loop. Safe to call once.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isRunning {
		return fmt.Errorf("sync engine already running")
	}
	e.isRunning = true
	e.stopChan = make(chan struct{})
	e.doneChan = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.autoSyncLoop(ctx)

	log.Println("✅ Sync Engine started")
	return nil
}

// Stop signals the loop to exit and abandons in-flight transport calls.
// Local writes are transactional, so a cancelled cycle cannot leave a
// partial application behind; the sealed run records what happened.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = false
	close(e.stopChan)
	e.cancel()
	done := e.doneChan
	e.mu.Unlock()

	<-done
	log.Println("✅ Sync Engine stopped")
}

// autoSyncLoop triggers bidirectional runs on the configured interval
func (e *Engine) autoSyncLoop(ctx context.Context) {
	defer close(e.doneChan)

	for {
		interval := e.currentInterval(ctx)
		select {
		case <-time.After(interval):
		case <-e.stopChan:
			return
		}

		cfg, err := e.store.GetSyncConfig(ctx)
		if err != nil || !cfg.AutoSync {
			continue
		}

		if _, err := e.RunSync(ctx, "auto", models.DirectionBidirectional); err != nil {
			// Degraded, not fatal: the run record has the details and
			// the next cycle retries.
			log.Printf("⚠️ Auto-sync cycle failed: %v", err)
		}
	}
}

func (e *Engine) currentInterval(ctx context.Context) time.Duration {
	cfg, err := e.store.GetSyncConfig(ctx)
	if err != nil || cfg.SyncInterval <= 0 {
		return time.Duration(e.defaults.IntervalSeconds) * time.Second
	}
	return time.Duration(cfg.SyncInterval) * time.Second
}

// RunSync performs one replication run and always seals its SyncRun,
// success or failure. Transport errors are recorded into the run and the
// sync state is left untouched for the next attempt; they do not
// propagate as process failures.
func (e *Engine) RunSync(ctx context.Context, kind string, direction models.SyncDirection) (*models.SyncRun, error) {
	e.mu.Lock()
	if e.syncInProgress {
		e.mu.Unlock()
		return nil, fmt.Errorf("sync already in progress")
	}
	e.syncInProgress = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncInProgress = false
		e.lastSync = time.Now()
		e.mu.Unlock()
	}()

	cfg, err := e.store.GetSyncConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync not configured: %w", err)
	}

	run, err := e.store.OpenSyncRun(ctx, kind, direction)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(e.defaults.RequestTimeout) * time.Second
	client := e.newClient(cfg, timeout)

	if direction == models.DirectionUpload || direction == models.DirectionBidirectional {
		e.pushChanges(ctx, client, cfg, run)
		e.pushUploads(ctx, client, run)
	}
	if direction == models.DirectionDownload || direction == models.DirectionBidirectional {
		e.pullChanges(ctx, client, cfg, run)
	}

	status := "success"
	if run.ErrorCount > 0 {
		status = "partial"
		if run.ItemsSent == 0 && run.ItemsReceived == 0 {
			status = "error"
		}
	}

	if err := e.store.SealSyncRun(ctx, run); err != nil {
		return run, err
	}
	if err := e.store.UpdateSyncOutcome(ctx, status); err != nil {
		return run, err
	}

	log.Printf("🔄 Sync run %s finished: sent=%d received=%d conflicts=%d errors=%d",
		run.RunID, run.ItemsSent, run.ItemsReceived, run.ConflictsResolved, run.ErrorCount)
	return run, nil
}

// pushChanges uploads the pending change log in one batch. On transport
// failure nothing is acknowledged; attempts are bumped so records that
// keep failing eventually leave the default selection.
func (e *Engine) pushChanges(ctx context.Context, client *Client, cfg *models.SyncConfig, run *models.SyncRun) {
	batch := e.defaults.BatchSize
	changes, err := e.tracker.Pending(ctx, "", batch)
	if err != nil {
		run.ErrorCount++
		store.AppendRunDetail(run, "push_error", err.Error())
		return
	}
	if len(changes) == 0 {
		return
	}

	ids := make([]string, len(changes))
	for i, c := range changes {
		ids[i] = c.ChangeID
	}

	if err := client.PushChanges(ctx, changes); err != nil {
		run.ErrorCount++
		store.AppendRunDetail(run, "push_error", err.Error())
		if rerr := e.store.RecordSyncFailure(ctx, ids, err); rerr != nil {
			store.AppendRunDetail(run, "push_bookkeeping_error", rerr.Error())
		}
		return
	}

	if err := e.tracker.Acknowledge(ctx, ids); err != nil {
		run.ErrorCount++
		store.AppendRunDetail(run, "ack_error", err.Error())
		return
	}
	run.ItemsSent += len(changes)
}

// pushUploads drains leaseable upload tasks and any straggler
// discoveries that never got a task, sending discovered mods to the hub
func (e *Engine) pushUploads(ctx context.Context, client *Client, run *models.SyncRun) {
	for i := 0; i < e.defaults.BatchSize; i++ {
		task, err := e.queue.LeaseNext(ctx, queue.TaskUpload)
		if err != nil {
			if !errors.Is(err, store.ErrNoTask) {
				run.ErrorCount++
				store.AppendRunDetail(run, "lease_error", err.Error())
			}
			break
		}

		discoveryID, _ := task.Payload["discovery_id"].(string)
		if err := e.uploadDiscovery(ctx, client, discoveryID); err != nil {
			run.ErrorCount++
			store.AppendRunDetail(run, "upload_error", err.Error())
			if _, ferr := e.queue.Fail(ctx, task.TaskID, err); ferr != nil {
				store.AppendRunDetail(run, "upload_bookkeeping_error", ferr.Error())
			}
			// Transport is down; retrying the rest this run is pointless
			var terr *TransportError
			if errors.As(err, &terr) {
				break
			}
			continue
		}

		if err := e.queue.Complete(ctx, task.TaskID, nil); err != nil {
			store.AppendRunDetail(run, "upload_bookkeeping_error", err.Error())
		}
		run.ItemsSent++
	}

	// Discoveries can predate the queue (e.g. imported databases)
	pending, err := e.store.ListPendingUploads(ctx, e.defaults.BatchSize)
	if err != nil {
		run.ErrorCount++
		store.AppendRunDetail(run, "upload_error", err.Error())
		return
	}
	if len(pending) == 0 {
		return
	}

	if err := client.PushDiscoveries(ctx, pending); err != nil {
		run.ErrorCount++
		store.AppendRunDetail(run, "upload_error", err.Error())
		return
	}
	for _, d := range pending {
		if err := e.store.MarkDiscoveryUploaded(ctx, d.DiscoveryID, nil); err != nil {
			store.AppendRunDetail(run, "upload_bookkeeping_error", err.Error())
			continue
		}
		run.ItemsSent++
	}
}

// uploadDiscovery pushes a single discovery referenced by an upload task
func (e *Engine) uploadDiscovery(ctx context.Context, client *Client, discoveryID string) error {
	if discoveryID == "" {
		return fmt.Errorf("upload task missing discovery_id")
	}
	d, err := e.store.GetDiscovery(ctx, discoveryID)
	if err != nil {
		return err
	}
	if d.IsUploaded {
		return nil
	}
	if err := client.PushDiscoveries(ctx, []models.ModDiscovery{*d}); err != nil {
		if merr := e.store.MarkDiscoveryUploaded(ctx, discoveryID, err); merr != nil {
			return merr
		}
		return err
	}
	return e.store.MarkDiscoveryUploaded(ctx, discoveryID, nil)
}

// pullChanges fetches remote updates since the checkpoint and applies
// each one through the conflict resolver
func (e *Engine) pullChanges(ctx context.Context, client *Client, cfg *models.SyncConfig, run *models.SyncRun) {
	checkpoint, err := e.store.LastCheckpoint(ctx)
	if err != nil {
		run.ErrorCount++
		store.AppendRunDetail(run, "pull_error", err.Error())
		return
	}

	remote, err := client.PullChanges(ctx, checkpoint)
	if err != nil {
		run.ErrorCount++
		store.AppendRunDetail(run, "pull_error", err.Error())
		return
	}

	manual := 0
	for i := range remote {
		rc := remote[i].AsChange()

		local, err := e.store.FindUnsyncedChange(ctx, rc.EntityType, rc.EntityID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// No local counterpart: remote applies unconditionally
			if err := e.applyRemote(ctx, rc); err != nil {
				run.ErrorCount++
				store.AppendRunDetail(run, "apply_error", err.Error())
				continue
			}
			run.ItemsReceived++
		case err != nil:
			run.ErrorCount++
			store.AppendRunDetail(run, "apply_error", err.Error())
		default:
			policy := local.Policy
			if policy == "" {
				policy = cfg.ConflictPolicy
			}
			res := Resolve(local, rc, policy)
			switch res.Outcome {
			case OutcomeManual:
				manual++
				if err := e.store.HoldChange(ctx, local.ChangeID, ErrConflictUnresolved); err != nil {
					store.AppendRunDetail(run, "manual_bookkeeping_error", err.Error())
				}
			case OutcomeLocal:
				// Local wins; it stays pending and uploads next push
				if res.Conflicted {
					run.ConflictsResolved++
				}
			case OutcomeRemote, OutcomeMerged:
				if err := e.applyRemote(ctx, res.Winner); err != nil {
					run.ErrorCount++
					store.AppendRunDetail(run, "apply_error", err.Error())
					continue
				}
				if res.Outcome == OutcomeRemote {
					// Remote superseded the local change; stop pushing it
					if err := e.tracker.Acknowledge(ctx, []string{local.ChangeID}); err != nil {
						store.AppendRunDetail(run, "ack_error", err.Error())
					}
				}
				if res.Conflicted {
					run.ConflictsResolved++
				}
			}
			run.ItemsReceived++
		}
	}
	if manual > 0 {
		store.AppendRunDetail(run, "pending_manual_conflicts", manual)
	}
}

// applyRemote materializes a winning change into local state. Writes go
// through content-level upserts keyed by natural ids, so re-applying the
// same resolution is a no-op.
func (e *Engine) applyRemote(ctx context.Context, c *models.OfflineChange) error {
	switch c.EntityType {
	case models.EntityTranslation:
		entry := &models.TranslationEntry{
			ModID:          asString(c.Payload["mod_id"]),
			Language:       asString(c.Payload["language"]),
			TranslationKey: asString(c.Payload["translation_key"]),
			SourceText:     asString(c.Payload["source_text"]),
			TranslatedText: asString(c.Payload["new_text"]),
			Status:         asString(c.Payload["status"]),
		}
		if entry.TranslationKey == "" {
			return fmt.Errorf("remote translation change %s missing translation_key", c.EntityID)
		}
		if entry.Status == "" {
			entry.Status = "translated"
		}
		return e.store.UpsertTranslationEntry(ctx, entry)

	case models.EntityProject:
		project := &models.Project{
			ProjectID:      c.EntityID,
			Name:           asString(c.Payload["project_name"]),
			SourceLanguage: asString(c.Payload["source_language"]),
			TargetLanguage: asString(c.Payload["target_language"]),
		}
		if project.Name == "" {
			return fmt.Errorf("remote project change %s missing project_name", c.EntityID)
		}
		return e.store.UpsertProject(ctx, project)

	default:
		// Mods, terminology and settings have no local materialization
		// beyond the log itself; record the remote change as applied.
		// A re-pull after a partial run delivers the same change again,
		// so dedup before appending.
		exists, err := e.store.ChangeExists(ctx, c)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		c.IsSynced = true
		now := time.Now().UTC()
		c.SyncedAt = &now
		_, err = e.store.AppendChange(ctx, c)
		return err
	}
}

// Status is the engine view returned by GET /sync/status
type Status struct {
	IsRunning      bool               `json:"isRunning"`
	SyncInProgress bool               `json:"syncInProgress"`
	LastSync       time.Time          `json:"lastSync"`
	RecentRuns     []models.SyncRun   `json:"recentRuns"`
	Pending        map[string]int64   `json:"pending"`
	Settings       *models.SyncConfig `json:"settings,omitempty"`
}

// GetStatus reports recent run history plus current pending counters
func (e *Engine) GetStatus(ctx context.Context) (*Status, error) {
	e.mu.RLock()
	st := &Status{
		IsRunning:      e.isRunning,
		SyncInProgress: e.syncInProgress,
		LastSync:       e.lastSync,
	}
	e.mu.RUnlock()

	runs, err := e.store.RecentSyncRuns(ctx, 10)
	if err != nil {
		return nil, err
	}
	st.RecentRuns = runs

	stats, err := e.store.GetStatistics(ctx)
	if err != nil {
		return nil, err
	}
	st.Pending = map[string]int64{
		"changes": stats.UnsyncedChanges,
		"uploads": stats.PendingUploads,
		"tasks":   stats.PendingTasks,
	}

	if cfg, err := e.store.GetSyncConfig(ctx); err == nil {
		st.Settings = cfg
	}
	return st, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
