package release

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// clientVersionInfo is the payload the game launcher polls for. Field names
// are part of the client wire format and must not change casing.
type clientVersionInfo struct {
	Version      string `json:"Version"`
	DownloadUrl  string `json:"DownloadUrl"`
	ReleaseNotes string `json:"ReleaseNotes"`
	FileSize     int64  `json:"FileSize"`
}

func (a *API) handleActive(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel, err := a.svc.Active(r.Context(), kind)
		if err != nil {
			respondError(w, err)
			return
		}

		respondJSON(w, http.StatusOK, clientVersionInfo{
			Version:      rel.Version,
			DownloadUrl:  fmt.Sprintf("%s/downloads/%s", a.config.BaseURL, rel.Filename),
			ReleaseNotes: rel.ReleaseNotes,
			FileSize:     rel.SizeBytes,
		})
	}
}

func (a *API) handleHistory(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := a.svc.History(r.Context(), kind)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, history)
	}
}

func (a *API) handleActivate(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := chi.URLParam(r, "version")
		if err := a.svc.Activate(r.Context(), kind, version); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"message": fmt.Sprintf("%s version %s activated", kind, version),
		})
	}
}

func (a *API) handleDeactivate(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.svc.Deactivate(r.Context(), kind); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"message": fmt.Sprintf("no %s version is active now", kind),
		})
	}
}

func (a *API) handleDelete(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := chi.URLParam(r, "version")
		err := a.svc.Delete(r.Context(), kind, version)
		if errors.Is(err, ErrActiveVersion) {
			respondJSON(w, statusFor(err), map[string]any{
				"error": "cannot delete the active version; activate another version or deactivate first",
			})
			return
		}
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"message": fmt.Sprintf("%s version %s deleted", kind, version),
		})
	}
}

func (a *API) handleNotes(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ReleaseNotes string `json:"release_notes"`
		}
		if err := decodeJSON(r, &req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}

		version := chi.URLParam(r, "version")
		if err := a.svc.UpdateNotes(r.Context(), kind, version, req.ReleaseNotes); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"message": fmt.Sprintf("release notes updated for %s %s", kind, version),
		})
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "Healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
