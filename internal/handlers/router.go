// Package handlers exposes the local REST surface over gorilla/mux.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/transhub/mclocal/internal/cache"
	"github.com/transhub/mclocal/internal/queue"
	"github.com/transhub/mclocal/internal/scanner"
	"github.com/transhub/mclocal/internal/store"
	syncengine "github.com/transhub/mclocal/internal/sync"
	"github.com/transhub/mclocal/internal/tracker"
)

// Router wraps the mux router and the application components
type Router struct {
	*mux.Router
	store   *store.Store
	tracker *tracker.Tracker
	engine  *syncengine.Engine
	scans   *scanner.Service
	cache   *cache.ScanCache
	queue   *queue.Queue
}

// NewRouter creates the HTTP router with all routes
func NewRouter(st *store.Store, tr *tracker.Tracker, engine *syncengine.Engine, scans *scanner.Service, c *cache.ScanCache, q *queue.Queue) *Router {
	r := &Router{
		Router:  mux.NewRouter(),
		store:   st,
		tracker: tr,
		engine:  engine,
		scans:   scans,
		cache:   c,
		queue:   q,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Statistics
	r.HandleFunc("/statistics", r.getStatistics).Methods("GET")

	// Discovered mods
	r.HandleFunc("/mods", r.listMods).Methods("GET")
	r.HandleFunc("/mods/{id}", r.getMod).Methods("GET")

	// Translations
	r.HandleFunc("/translations/{mod_id}/{language}", r.listTranslations).Methods("GET")
	r.HandleFunc("/translations/{entry_id}", r.updateTranslation).Methods("PUT")

	// Projects
	r.HandleFunc("/projects", r.listProjects).Methods("GET")
	r.HandleFunc("/projects", r.createProject).Methods("POST")

	// Scanning
	r.HandleFunc("/scan", r.triggerScan).Methods("POST")

	// Sync control
	r.HandleFunc("/sync", r.triggerSync).Methods("POST")
	r.HandleFunc("/sync/status", r.getSyncStatus).Methods("GET")

	// Change log
	r.HandleFunc("/changes/summary", r.getChangeSummary).Methods("GET")
	r.HandleFunc("/changes/pending", r.getPendingChanges).Methods("GET")
	r.HandleFunc("/changes/export", r.exportChanges).Methods("GET")
	r.HandleFunc("/changes/import", r.importChanges).Methods("POST")
	r.HandleFunc("/changes/{change_id}/retry", r.retryChange).Methods("POST")

	// Cache maintenance
	r.HandleFunc("/cache/cleanup", r.cleanupCache).Methods("POST")

	// Settings
	r.HandleFunc("/settings", r.getSettings).Methods("GET")
	r.HandleFunc("/settings", r.updateSettings).Methods("PUT")

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"server": "mc-local",
	})
}

// getStatistics returns aggregate counts across all tracked entities
func (r *Router) getStatistics(w http.ResponseWriter, req *http.Request) {
	stats, err := r.store.GetStatistics(req.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondStoreError maps component errors to HTTP statuses
func respondStoreError(w http.ResponseWriter, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, queue.ErrQueueFull):
		respondError(w, http.StatusTooManyRequests, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
