package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/transhub/mclocal/internal/config"
	"github.com/transhub/mclocal/internal/database/dbtest"
	"github.com/transhub/mclocal/internal/models"
	"github.com/transhub/mclocal/internal/queue"
	"github.com/transhub/mclocal/internal/store"
	"github.com/transhub/mclocal/internal/tracker"
)

func newTestEngine(t *testing.T, serverURL string, policy models.ConflictPolicy) (*Engine, *store.Store, *tracker.Tracker) {
	t.Helper()

	st := store.New(dbtest.Open(t))
	tr := tracker.New(st, models.PolicyClientWins)
	q := queue.New(st, 0)

	require.NoError(t, st.ReplaceSyncConfig(context.Background(), &models.SyncConfig{
		ServerURL:      serverURL,
		ConflictPolicy: policy,
		SyncInterval:   300,
	}))

	defaults := config.SyncDefaults{
		IntervalSeconds: 300,
		RequestTimeout:  5,
		BatchSize:       100,
	}
	return NewEngine(st, tr, q, defaults), st, tr
}

// fakeHub is a minimal remote peer for replication tests
type fakeHub struct {
	mu           chan struct{}
	pushed       [][]models.OfflineChange
	pullResponse []RemoteChange
	failPush     bool
}

func newFakeHub() *fakeHub {
	h := &fakeHub{mu: make(chan struct{}, 1)}
	h.mu <- struct{}{}
	return h
}

func (h *fakeHub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sync/changes", func(w http.ResponseWriter, r *http.Request) {
		<-h.mu
		defer func() { h.mu <- struct{}{} }()
		if h.failPush {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		var body struct {
			Changes []models.OfflineChange `json:"changes"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		h.pushed = append(h.pushed, body.Changes)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/sync/mods", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/sync/changes/updates", func(w http.ResponseWriter, r *http.Request) {
		<-h.mu
		defer func() { h.mu <- struct{}{} }()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"changes": h.pullResponse})
	})
	return mux
}

func TestRunSyncPushAcknowledges(t *testing.T) {
	hub := newFakeHub()
	server := httptest.NewServer(hub.handler())
	defer server.Close()

	engine, _, tr := newTestEngine(t, server.URL, models.PolicyClientWins)
	ctx := context.Background()

	_, err := tr.Track(ctx, models.EntityMod, "mod-1", models.OpCreate, datatypes.JSONMap{
		"content_hash": "abc",
	}, "")
	require.NoError(t, err)

	run, err := engine.RunSync(ctx, "manual", models.DirectionUpload)
	require.NoError(t, err)
	assert.Equal(t, 1, run.ItemsSent)
	assert.Equal(t, 0, run.ErrorCount)
	require.NotNil(t, run.CompletedAt, "run must be sealed")

	pending, err := tr.Pending(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "pushed changes must be acknowledged")

	require.Len(t, hub.pushed, 1)
	assert.Equal(t, "mod-1", hub.pushed[0][0].EntityID)
}

func TestRunSyncTransportFailureLeavesStateUntouched(t *testing.T) {
	hub := newFakeHub()
	hub.failPush = true
	server := httptest.NewServer(hub.handler())
	defer server.Close()

	engine, st, tr := newTestEngine(t, server.URL, models.PolicyClientWins)
	ctx := context.Background()

	_, err := tr.Track(ctx, models.EntityMod, "mod-1", models.OpCreate, nil, "")
	require.NoError(t, err)

	run, err := engine.RunSync(ctx, "manual", models.DirectionUpload)
	require.NoError(t, err, "transport failures must not fail the run call")
	assert.Equal(t, 0, run.ItemsSent)
	assert.Greater(t, run.ErrorCount, 0)
	require.NotNil(t, run.CompletedAt, "failed run must still be sealed")

	// Change stays pending with a bumped attempt counter
	recent, err := st.RecentChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].IsSynced)
	assert.Equal(t, 1, recent[0].SyncAttempts)
	require.NotNil(t, recent[0].SyncError)

	pending, err := tr.Pending(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "next run must pick the change up again")
}

func TestRunSyncUnreachablePeer(t *testing.T) {
	engine, _, tr := newTestEngine(t, "http://127.0.0.1:1", models.PolicyClientWins)
	ctx := context.Background()

	_, err := tr.Track(ctx, models.EntityMod, "mod-1", models.OpCreate, nil, "")
	require.NoError(t, err)

	run, err := engine.RunSync(ctx, "manual", models.DirectionBidirectional)
	require.NoError(t, err)
	assert.Greater(t, run.ErrorCount, 0)
	require.NotNil(t, run.CompletedAt)
}

func TestRunSyncPullAppliesRemoteOnlyChange(t *testing.T) {
	hub := newFakeHub()
	hub.pullResponse = []RemoteChange{{
		EntityType: models.EntityTranslation,
		EntityID:   "entry-9",
		Operation:  string(models.OpUpdate),
		Payload: map[string]interface{}{
			"mod_id":          "jei",
			"language":        "de_de",
			"translation_key": "item.jei.magnet",
			"new_text":        "Magnet",
		},
		CreatedAt: time.Now().UTC(),
	}}
	server := httptest.NewServer(hub.handler())
	defer server.Close()

	engine, st, _ := newTestEngine(t, server.URL, models.PolicyClientWins)
	ctx := context.Background()

	run, err := engine.RunSync(ctx, "manual", models.DirectionDownload)
	require.NoError(t, err)
	assert.Equal(t, 1, run.ItemsReceived)
	assert.Equal(t, 0, run.ConflictsResolved, "remote-only change is not a conflict")

	entries, err := st.ListTranslationEntries(ctx, "jei", "de_de", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Magnet", entries[0].TranslatedText)
}

func TestRunSyncPullConflictServerWins(t *testing.T) {
	hub := newFakeHub()
	hub.failPush = true // keep the local change unsynced through the push phase
	hub.pullResponse = []RemoteChange{{
		EntityType: models.EntityTranslation,
		EntityID:   "entry-1",
		Operation:  string(models.OpUpdate),
		Payload: map[string]interface{}{
			"mod_id":          "jei",
			"language":        "de_de",
			"translation_key": "item.jei.magnet",
			"new_text":        "Magnet (Server)",
		},
		CreatedAt: time.Now().UTC(),
	}}
	server := httptest.NewServer(hub.handler())
	defer server.Close()

	engine, st, tr := newTestEngine(t, server.URL, models.PolicyServerWins)
	ctx := context.Background()

	_, err := tr.Track(ctx, models.EntityTranslation, "entry-1", models.OpUpdate, datatypes.JSONMap{
		"mod_id":          "jei",
		"language":        "de_de",
		"translation_key": "item.jei.magnet",
		"new_text":        "Magnet (Lokal)",
	}, models.PolicyServerWins)
	require.NoError(t, err)

	run, err := engine.RunSync(ctx, "manual", models.DirectionBidirectional)
	require.NoError(t, err)
	assert.Equal(t, 1, run.ConflictsResolved)

	entries, err := st.ListTranslationEntries(ctx, "jei", "de_de", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Magnet (Server)", entries[0].TranslatedText)

	// The superseded local change must not be pushed again
	pending, err := tr.Pending(ctx, models.EntityTranslation, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunSyncManualConflictStaysPending(t *testing.T) {
	hub := newFakeHub()
	hub.failPush = true
	hub.pullResponse = []RemoteChange{{
		EntityType: models.EntityTranslation,
		EntityID:   "entry-1",
		Operation:  string(models.OpUpdate),
		Payload: map[string]interface{}{
			"new_text": "Magnet (Server)",
		},
		CreatedAt: time.Now().UTC(),
	}}
	server := httptest.NewServer(hub.handler())
	defer server.Close()

	engine, st, tr := newTestEngine(t, server.URL, models.PolicyManual)
	ctx := context.Background()

	_, err := tr.Track(ctx, models.EntityTranslation, "entry-1", models.OpUpdate, datatypes.JSONMap{
		"new_text": "Magnet (Lokal)",
	}, models.PolicyManual)
	require.NoError(t, err)

	run, err := engine.RunSync(ctx, "manual", models.DirectionBidirectional)
	require.NoError(t, err)
	assert.Equal(t, 0, run.ConflictsResolved)
	require.NotNil(t, run.Detail)
	assert.Equal(t, float64(1), toFloat(run.Detail["pending_manual_conflicts"]))

	// Held for review: still unsynced, annotated for the operator, and
	// out of the push selection until explicitly retried
	recent, err := st.RecentChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].IsSynced)
	assert.True(t, recent[0].IsHeld)
	require.NotNil(t, recent[0].SyncError)
	assert.Contains(t, *recent[0].SyncError, "manual review")

	pending, err := tr.Pending(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "a held conflict must not be pushed as if it had won")

	// Operator resolves it locally and releases the record
	require.NoError(t, st.RetryChange(ctx, recent[0].ChangeID))
	pending, err = tr.Pending(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRunSyncPullReappliesSameChangeOnce(t *testing.T) {
	hub := newFakeHub()
	hub.pullResponse = []RemoteChange{{
		EntityType: models.EntityTerminology,
		EntityID:   "term-1",
		Operation:  string(models.OpUpdate),
		Payload: map[string]interface{}{
			"term": "Redstone",
		},
		CreatedAt: time.Now().UTC(),
	}}
	server := httptest.NewServer(hub.handler())
	defer server.Close()

	engine, st, _ := newTestEngine(t, server.URL, models.PolicyClientWins)
	ctx := context.Background()

	// The hub replays the same change on both pulls, as it would after a
	// run whose checkpoint never advanced
	for i := 0; i < 2; i++ {
		run, err := engine.RunSync(ctx, "manual", models.DirectionDownload)
		require.NoError(t, err)
		assert.Equal(t, 0, run.ErrorCount)
	}

	recent, err := st.RecentChanges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1, "re-applying a pulled change must not duplicate the log record")
	assert.True(t, recent[0].IsSynced)
}

func TestStatusReportsPendingCounters(t *testing.T) {
	engine, _, tr := newTestEngine(t, "http://127.0.0.1:1", models.PolicyClientWins)
	ctx := context.Background()

	_, err := tr.Track(ctx, models.EntityMod, "mod-1", models.OpCreate, nil, "")
	require.NoError(t, err)

	status, err := engine.GetStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Equal(t, int64(1), status.Pending["changes"])
	require.NotNil(t, status.Settings)
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return -1
	}
}
