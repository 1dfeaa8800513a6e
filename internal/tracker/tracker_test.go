package tracker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/transhub/mclocal/internal/database/dbtest"
	"github.com/transhub/mclocal/internal/models"
	"github.com/transhub/mclocal/internal/store"
	"github.com/transhub/mclocal/internal/tracker"
)

func newTracker(t *testing.T) (*tracker.Tracker, *store.Store) {
	t.Helper()
	st := store.New(dbtest.Open(t))
	return tracker.New(st, models.PolicyClientWins), st
}

func TestTrackAppearsInPending(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()

	id, err := tr.Track(ctx, models.EntityTranslation, "entry-1", models.OpUpdate, datatypes.JSONMap{
		"old_text": "Hello",
		"new_text": "Hallo",
	}, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	pending, err := tr.Pending(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ChangeID)
	assert.Equal(t, models.EntityTranslation, pending[0].EntityType)
	assert.Equal(t, "Hallo", pending[0].Payload["new_text"])
	assert.Equal(t, models.PolicyClientWins, pending[0].Policy, "default policy must apply")
}

func TestTrackRejectsUnknownEntityType(t *testing.T) {
	tr, _ := newTracker(t)

	_, err := tr.Track(context.Background(), "spaceship", "x", models.OpCreate, nil, "")
	var verr *store.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "entity_type", verr.Field)
}

func TestTrackBatchAtomic(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()

	batch := []*models.OfflineChange{
		{EntityType: models.EntityMod, EntityID: "mod-1", Operation: models.OpCreate},
		{EntityType: models.EntityMod, EntityID: "mod-2", Operation: models.OpCreate},
	}
	require.NoError(t, tr.TrackBatch(ctx, batch))

	pending, err := tr.Pending(ctx, models.EntityMod, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestAcknowledgeIdempotent(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()

	id, err := tr.Track(ctx, models.EntityMod, "mod-1", models.OpCreate, nil, "")
	require.NoError(t, err)

	require.NoError(t, tr.Acknowledge(ctx, []string{id}))
	require.NoError(t, tr.Acknowledge(ctx, []string{id, "no-such-id"}))

	pending, err := tr.Pending(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSummarize(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()

	_, err := tr.Track(ctx, models.EntityMod, "mod-1", models.OpCreate, nil, "")
	require.NoError(t, err)
	_, err = tr.Track(ctx, models.EntityTranslation, "entry-1", models.OpUpdate, nil, "")
	require.NoError(t, err)
	id, err := tr.Track(ctx, models.EntityTranslation, "entry-2", models.OpUpdate, nil, "")
	require.NoError(t, err)
	require.NoError(t, tr.Acknowledge(ctx, []string{id}))

	summary, err := tr.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalPending)
	assert.Len(t, summary.Recent, 3)

	byEntity := map[string]int64{}
	for _, e := range summary.ByEntity {
		byEntity[e.EntityType] = e.Pending
	}
	assert.Equal(t, int64(1), byEntity[models.EntityMod])
	assert.Equal(t, int64(1), byEntity[models.EntityTranslation])
}

func TestExportImportRoundTrip(t *testing.T) {
	source, _ := newTracker(t)
	ctx := context.Background()

	_, err := source.Track(ctx, models.EntityTranslation, "entry-1", models.OpUpdate, datatypes.JSONMap{
		"new_text": "Hallo",
	}, models.PolicyNewestWins)
	require.NoError(t, err)
	_, err = source.Track(ctx, models.EntityMod, "mod-1", models.OpCreate, datatypes.JSONMap{
		"content_hash": "abc",
	}, "")
	require.NoError(t, err)

	data, err := source.Export(ctx)
	require.NoError(t, err)

	target, _ := newTracker(t)
	imported, err := target.Import(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	pending, err := target.Pending(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	byEntity := map[string]models.OfflineChange{}
	for _, c := range pending {
		byEntity[c.EntityID] = c
	}
	assert.Equal(t, "Hallo", byEntity["entry-1"].Payload["new_text"])
	assert.Equal(t, models.PolicyNewestWins, byEntity["entry-1"].Policy)
	assert.Equal(t, models.OpCreate, byEntity["mod-1"].Operation)
}

func TestExportIncludesAttemptExhausted(t *testing.T) {
	tr, st := newTracker(t)
	ctx := context.Background()

	id, err := tr.Track(ctx, models.EntityMod, "mod-1", models.OpCreate, nil, "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.RecordSyncFailure(ctx, []string{id}, errors.New("peer down")))
	}

	// Out of the push selection, but still part of the transfer set
	pending, err := tr.Pending(ctx, "", 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	data, err := tr.Export(ctx)
	require.NoError(t, err)

	var env struct {
		TotalChanges int `json:"total_changes"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, 1, env.TotalChanges)
}

func TestImportIdempotent(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()

	_, err := tr.Track(ctx, models.EntityMod, "mod-1", models.OpCreate, nil, "")
	require.NoError(t, err)

	data, err := tr.Export(ctx)
	require.NoError(t, err)

	imported, err := tr.Import(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 0, imported, "replaying an export into its own source must not duplicate")

	again, err := tr.Import(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 0, again)

	pending, err := tr.Pending(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestImportRejectsMalformedPayload(t *testing.T) {
	tr, _ := newTracker(t)

	_, err := tr.Import(context.Background(), []byte("{not json"))
	assert.Error(t, err)
}

func TestRetireKeepsUnsynced(t *testing.T) {
	tr, st := newTracker(t)
	ctx := context.Background()

	id, err := tr.Track(ctx, models.EntityMod, "mod-synced", models.OpCreate, nil, "")
	require.NoError(t, err)
	require.NoError(t, tr.Acknowledge(ctx, []string{id}))
	_, err = tr.Track(ctx, models.EntityMod, "mod-pending", models.OpCreate, nil, "")
	require.NoError(t, err)

	// Freshly synced: a 30-day threshold retires nothing yet
	deleted, err := tr.Retire(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	recent, err := st.RecentChanges(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
