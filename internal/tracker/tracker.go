// Package tracker is the single choke point for change capture: every
// mutation to a tracked entity is reported here, so no write escapes the
// replication log.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"gorm.io/datatypes"

	"github.com/transhub/mclocal/internal/models"
	"github.com/transhub/mclocal/internal/store"
)

// Tracker records mutations as immutable change records
type Tracker struct {
	store         *store.Store
	defaultPolicy models.ConflictPolicy
}

// New creates a tracker writing through the given store
func New(st *store.Store, defaultPolicy models.ConflictPolicy) *Tracker {
	if defaultPolicy == "" {
		defaultPolicy = models.PolicyClientWins
	}
	return &Tracker{store: st, defaultPolicy: defaultPolicy}
}

// Track appends one change record and returns its id
func (t *Tracker) Track(ctx context.Context, entityType, entityID string, op models.ChangeOperation, payload datatypes.JSONMap, policy models.ConflictPolicy) (string, error) {
	if policy == "" {
		policy = t.defaultPolicy
	}
	return t.store.AppendChange(ctx, &models.OfflineChange{
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Payload:    payload,
		Policy:     policy,
	})
}

// TrackBatch appends several change records atomically
func (t *Tracker) TrackBatch(ctx context.Context, changes []*models.OfflineChange) error {
	for _, c := range changes {
		if c.Policy == "" {
			c.Policy = t.defaultPolicy
		}
	}
	return t.store.AppendChanges(ctx, changes)
}

// Pending returns unsynced changes under the attempt cutoff, oldest first
func (t *Tracker) Pending(ctx context.Context, entityType string, limit int) ([]models.OfflineChange, error) {
	return t.store.ListUnsyncedChanges(ctx, entityType, limit)
}

// Acknowledge flips the given changes to synced. Ids already synced or
// unknown are silently skipped, so acknowledging twice is a no-op.
func (t *Tracker) Acknowledge(ctx context.Context, changeIDs []string) error {
	return t.store.MarkChangesSynced(ctx, changeIDs)
}

// Summary is the observability view over the change log
type Summary struct {
	ByEntity     []store.EntityChangeCount `json:"byEntity"`
	ByOperation  []store.OperationCount    `json:"byOperation"`
	Recent       []models.OfflineChange    `json:"recent"`
	TotalPending int64                     `json:"totalPending"`
}

// Summarize returns counts grouped by entity type and operation plus the
// ten most recent records
func (t *Tracker) Summarize(ctx context.Context) (*Summary, error) {
	byEntity, err := t.store.SummarizeChangesByEntity(ctx)
	if err != nil {
		return nil, err
	}
	byOp, err := t.store.SummarizePendingByOperation(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := t.store.RecentChanges(ctx, 10)
	if err != nil {
		return nil, err
	}

	var pending int64
	for _, e := range byEntity {
		pending += e.Pending
	}
	return &Summary{
		ByEntity:     byEntity,
		ByOperation:  byOp,
		Recent:       recent,
		TotalPending: pending,
	}, nil
}

// Retire deletes changes that are synced and older than the threshold.
// Unsynced changes survive regardless of age.
func (t *Tracker) Retire(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	deleted, err := t.store.DeleteRetiredChanges(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Printf("🧹 Retired %d synced change records older than %d days", deleted, olderThanDays)
	}
	return deleted, nil
}

// exportEnvelope is the transfer format for moving the pending change
// set between machines without a network link
type exportEnvelope struct {
	ExportedAt   time.Time              `json:"exported_at"`
	TotalChanges int                    `json:"total_changes"`
	Changes      []models.OfflineChange `json:"changes"`
}

// Export serializes every unsynced record to the transfer format,
// including held and attempt-exhausted ones: the file is the full set a
// disconnected machine needs to hand over.
func (t *Tracker) Export(ctx context.Context) ([]byte, error) {
	changes, err := t.store.AllUnsyncedChanges(ctx)
	if err != nil {
		return nil, err
	}
	env := exportEnvelope{
		ExportedAt:   time.Now().UTC(),
		TotalChanges: len(changes),
		Changes:      changes,
	}
	return json.MarshalIndent(env, "", "  ")
}

// Import replays an exported change set. Records whose
// (entity_type, entity_id, operation, created_at) tuple already exists
// are skipped, so importing the same file twice is idempotent.
// Returns the number of records actually inserted.
func (t *Tracker) Import(ctx context.Context, data []byte) (int, error) {
	var env exportEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("malformed change export: %w", err)
	}

	imported := 0
	for i := range env.Changes {
		c := env.Changes[i]
		exists, err := t.store.ChangeExists(ctx, &c)
		if err != nil {
			return imported, err
		}
		if exists {
			continue
		}

		// Re-key the record locally but keep the dedup tuple intact
		fresh := &models.OfflineChange{
			EntityType: c.EntityType,
			EntityID:   c.EntityID,
			Operation:  c.Operation,
			Payload:    c.Payload,
			Policy:     c.Policy,
			CreatedAt:  c.CreatedAt,
		}
		if _, err := t.store.AppendChange(ctx, fresh); err != nil {
			return imported, err
		}
		imported++
	}

	log.Printf("📥 Imported %d of %d change records", imported, len(env.Changes))
	return imported, nil
}
