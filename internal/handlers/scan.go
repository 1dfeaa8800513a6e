package handlers

import (
	"encoding/json"
	"net/http"
)

// triggerScan runs a scan synchronously and returns its result. Per-item
// failures are logged and skipped inside the scan; only a failure to
// start (bad path, store down) fails the request.
func (r *Router) triggerScan(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ScanPath    string `json:"scanPath"`
		GameVersion string `json:"gameVersion"`
		ModLoader   string `json:"modLoader"`
		Force       bool   `json:"force"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.ScanPath == "" {
		respondError(w, http.StatusBadRequest, "scanPath is required")
		return
	}

	result, err := r.scans.RunScan(req.Context(), body.ScanPath, body.GameVersion, body.ModLoader, body.Force)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// cleanupCache sweeps expired and invalidated cache entries
func (r *Router) cleanupCache(w http.ResponseWriter, req *http.Request) {
	removed, err := r.cache.Sweep(req.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"removed": removed,
	})
}
