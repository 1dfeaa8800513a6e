package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/transhub/mclocal/internal/models"
)

// triggerSync runs one replication run and returns its best-effort
// summary. Item-level failures live inside the sealed run record; the
// request fails only when no run could be started at all.
func (r *Router) triggerSync(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Direction string `json:"direction"`
	}
	if req.Body != nil {
		_ = json.NewDecoder(req.Body).Decode(&body)
	}

	direction := models.SyncDirection(body.Direction)
	switch direction {
	case models.DirectionUpload, models.DirectionDownload, models.DirectionBidirectional:
	case "":
		direction = models.DirectionBidirectional
	default:
		respondError(w, http.StatusBadRequest, "direction must be upload, download or bidirectional")
		return
	}

	run, err := r.engine.RunSync(req.Context(), "manual", direction)
	if err != nil {
		if run != nil {
			respondJSON(w, http.StatusOK, run)
			return
		}
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// getSyncStatus returns recent run history plus pending counters
func (r *Router) getSyncStatus(w http.ResponseWriter, req *http.Request) {
	status, err := r.engine.GetStatus(req.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}
