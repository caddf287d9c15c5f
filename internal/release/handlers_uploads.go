package release

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// multipartMemory bounds how much of the form is held in memory; file parts
// beyond this spill to disk.
const multipartMemory = 32 << 20

// uploadFormOverhead is the allowance for multipart framing and the non-file
// form fields on top of the artifact size cap.
const uploadFormOverhead = 64 << 10

// handleUpload accepts the admin upload form. Field names (game_file,
// version, release_notes, upload_type) are shared with the admin frontend.
//
// Oversized requests are rejected before the body is spooled to disk: a
// declared Content-Length beyond the cap fails immediately, and chunked
// bodies are cut off by MaxBytesReader during form parsing.
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := a.svc.MaxUploadBytes() + uploadFormOverhead
	if r.ContentLength > limit {
		respondError(w, fmt.Errorf("%w: request of %d bytes exceeds the %d byte limit",
			ErrPayloadTooLarge, r.ContentLength, a.svc.MaxUploadBytes()))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, fmt.Errorf("%w: request exceeds the %d byte limit",
				ErrPayloadTooLarge, a.svc.MaxUploadBytes()))
			return
		}
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("parse upload form: %v", err)})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("game_file")
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": "no file uploaded"})
		return
	}
	defer file.Close()

	kindName := r.FormValue("upload_type")
	if kindName == "" {
		kindName = string(KindGame)
	}
	kind, err := ParseKind(kindName)
	if err != nil {
		respondError(w, err)
		return
	}

	if !strings.EqualFold(filepath.Ext(header.Filename), ".zip") {
		respondError(w, fmt.Errorf("%w: only ZIP files are accepted", ErrValidation))
		return
	}

	rel, err := a.svc.Upload(r.Context(), UploadRequest{
		Kind:         kind,
		Version:      r.FormValue("version"),
		ReleaseNotes: r.FormValue("release_notes"),
		Meta:         map[string]any{"original_filename": header.Filename},
		Body:         file,
		DeclaredSize: header.Size,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateVersion) {
			respondJSON(w, statusFor(err), map[string]any{
				"error": fmt.Sprintf("%s version %s already exists; delete it first to replace the build", kind, strings.TrimSpace(r.FormValue("version"))),
			})
			return
		}
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, rel)
}
