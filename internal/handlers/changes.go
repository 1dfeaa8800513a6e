package handlers

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

// getChangeSummary returns change-log counts and the most recent records
func (r *Router) getChangeSummary(w http.ResponseWriter, req *http.Request) {
	summary, err := r.tracker.Summarize(req.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// getPendingChanges lists unsynced changes, optionally by entity type
func (r *Router) getPendingChanges(w http.ResponseWriter, req *http.Request) {
	entityType := req.URL.Query().Get("entityType")
	limit := queryInt(req, "limit", 100)

	changes, err := r.tracker.Pending(req.Context(), entityType, limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(changes),
		"changes": changes,
	})
}

// retryChange releases a held or attempt-exhausted change back into the
// pending selection for the next push
func (r *Router) retryChange(w http.ResponseWriter, req *http.Request) {
	changeID := mux.Vars(req)["change_id"]
	if err := r.store.RetryChange(req.Context(), changeID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"changeId": changeID,
		"status":   "pending",
	})
}

// exportChanges serializes the pending change set for offline transfer
func (r *Router) exportChanges(w http.ResponseWriter, req *http.Request) {
	data, err := r.tracker.Export(req.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="changes-export.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// importChanges replays an exported change set, skipping duplicates
func (r *Router) importChanges(w http.ResponseWriter, req *http.Request) {
	data, err := io.ReadAll(io.LimitReader(req.Body, 32<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	imported, err := r.tracker.Import(req.Context(), data)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"imported": imported,
	})
}
