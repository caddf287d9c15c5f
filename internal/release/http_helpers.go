package release

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/NerdsCorp/game-update-server/pkg/blobstore"
)

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, statusFor(err), map[string]any{"error": err.Error()})
}

// statusFor maps the engine's error taxonomy onto HTTP status codes.
// Activation conflicts share 409 with duplicates; on the activate endpoints
// a 409 can only mean a lost race, which is what clients retry.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrDuplicateVersion),
		errors.Is(err, ErrActiveVersion),
		errors.Is(err, ErrActivationConflict):
		return http.StatusConflict
	case errors.Is(err, ErrVersionNotFound),
		errors.Is(err, ErrNoActiveVersion),
		errors.Is(err, blobstore.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
