package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"gorm.io/datatypes"

	"github.com/transhub/mclocal/internal/models"
)

// listMods returns discovered mods, paginated via limit/offset
func (r *Router) listMods(w http.ResponseWriter, req *http.Request) {
	limit := queryInt(req, "limit", 100)
	offset := queryInt(req, "offset", 0)

	mods, err := r.store.ListDiscoveries(req.Context(), limit, offset)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(mods),
		"mods":  mods,
	})
}

// getMod returns one discovered mod
func (r *Router) getMod(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	mod, err := r.store.GetDiscovery(req.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, mod)
}

// listTranslations returns cached translation entries for a mod and language
func (r *Router) listTranslations(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	limit := queryInt(req, "limit", 200)
	offset := queryInt(req, "offset", 0)

	entries, err := r.store.ListTranslationEntries(req.Context(), vars["mod_id"], vars["language"], limit, offset)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"modId":    vars["mod_id"],
		"language": vars["language"],
		"count":    len(entries),
		"entries":  entries,
	})
}

// updateTranslation edits a cached entry and records the change
func (r *Router) updateTranslation(w http.ResponseWriter, req *http.Request) {
	entryID := mux.Vars(req)["entry_id"]

	var body struct {
		TranslatedText string `json:"translatedText"`
		Status         string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Edit and change record commit together: an edit without its
	// change record would never replicate
	var entry *models.TranslationEntry
	err := r.store.Atomic(req.Context(), func(ctx context.Context) error {
		var oldText string
		var err error
		entry, oldText, err = r.store.UpdateTranslationText(ctx, entryID, body.TranslatedText, body.Status)
		if err != nil {
			return err
		}
		_, err = r.tracker.Track(ctx, models.EntityTranslation, entry.EntryID, models.OpUpdate, datatypes.JSONMap{
			"mod_id":          entry.ModID,
			"language":        entry.Language,
			"translation_key": entry.TranslationKey,
			"old_text":        oldText,
			"new_text":        entry.TranslatedText,
			"status":          entry.Status,
		}, "")
		return err
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

// listProjects returns all localization projects
func (r *Router) listProjects(w http.ResponseWriter, req *http.Request) {
	projects, err := r.store.ListProjects(req.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(projects),
		"projects": projects,
	})
}

// createProject creates a project and its change record
func (r *Router) createProject(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Name           string   `json:"name"`
		SourceLanguage string   `json:"sourceLanguage"`
		TargetLanguage string   `json:"targetLanguage"`
		ScanPaths      []string `json:"scanPaths"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	project := &models.Project{
		Name:           body.Name,
		SourceLanguage: body.SourceLanguage,
		TargetLanguage: body.TargetLanguage,
	}
	if len(body.ScanPaths) > 0 {
		project.ScanPaths = datatypes.JSONMap{"paths": body.ScanPaths}
	}

	err := r.store.Atomic(req.Context(), func(ctx context.Context) error {
		if err := r.store.CreateProject(ctx, project); err != nil {
			return err
		}
		_, err := r.tracker.Track(ctx, models.EntityProject, project.ProjectID, models.OpCreate, datatypes.JSONMap{
			"project_name":    project.Name,
			"source_language": project.SourceLanguage,
			"target_language": project.TargetLanguage,
		}, "")
		return err
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, project)
}

func queryInt(req *http.Request, key string, def int) int {
	if v := req.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
