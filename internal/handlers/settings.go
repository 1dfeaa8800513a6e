package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/transhub/mclocal/internal/models"
	"github.com/transhub/mclocal/internal/store"
)

// settingsView is the API shape of the sync configuration. The API key
// is write-only: reads report only whether one is set.
type settingsView struct {
	ServerURL      string `json:"serverUrl"`
	HasAPIKey      bool   `json:"hasApiKey"`
	AutoSync       bool   `json:"autoSync"`
	SyncInterval   int    `json:"syncInterval"`
	ConflictPolicy string `json:"conflictPolicy"`
	LastSyncAt     string `json:"lastSyncAt,omitempty"`
	LastSyncStatus string `json:"lastSyncStatus,omitempty"`
}

// getSettings returns the active sync configuration
func (r *Router) getSettings(w http.ResponseWriter, req *http.Request) {
	cfg, err := r.store.GetSyncConfig(req.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	view := settingsView{
		ServerURL:      cfg.ServerURL,
		HasAPIKey:      cfg.APIKey != "",
		AutoSync:       cfg.AutoSync,
		SyncInterval:   cfg.SyncInterval,
		ConflictPolicy: string(cfg.ConflictPolicy),
		LastSyncStatus: cfg.LastSyncStatus,
	}
	if cfg.LastSyncAt != nil {
		view.LastSyncAt = cfg.LastSyncAt.Format(time.RFC3339)
	}
	respondJSON(w, http.StatusOK, view)
}

// updateSettings replaces the sync configuration. Omitting the API key
// keeps the stored one.
func (r *Router) updateSettings(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ServerURL      string  `json:"serverUrl"`
		APIKey         *string `json:"apiKey"`
		AutoSync       bool    `json:"autoSync"`
		SyncInterval   int     `json:"syncInterval"`
		ConflictPolicy string  `json:"conflictPolicy"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg := &models.SyncConfig{
		ServerURL:      body.ServerURL,
		AutoSync:       body.AutoSync,
		SyncInterval:   body.SyncInterval,
		ConflictPolicy: models.ConflictPolicy(body.ConflictPolicy),
	}
	if body.APIKey != nil {
		cfg.APIKey = *body.APIKey
	} else if existing, err := r.store.GetSyncConfig(req.Context()); err == nil {
		cfg.APIKey = existing.APIKey
	} else if !errors.Is(err, store.ErrNotFound) {
		respondStoreError(w, err)
		return
	}

	if err := r.store.ReplaceSyncConfig(req.Context(), cfg); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
