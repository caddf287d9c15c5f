package release

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleDownload serves the artifact bytes for a registered release. On blob
// backends that can presign URLs the client is redirected to fetch directly
// from object storage; otherwise the bytes stream through the service.
func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	if url, rel, ok, err := a.svc.DownloadURL(r.Context(), filename); err != nil {
		respondError(w, err)
		return
	} else if ok {
		a.svc.RecordDownload(r.Context(), rel.Kind, rel.Version)
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	rc, rel, err := a.svc.Open(r.Context(), filename)
	if err != nil {
		respondError(w, err)
		return
	}
	defer rc.Close()

	a.svc.RecordDownload(r.Context(), rel.Kind, rel.Version)

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", rel.SizeBytes))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rel.Filename))
	if _, err := io.Copy(w, rc); err != nil {
		a.logger.Printf("WARN streaming %s aborted: %v", rel.Filename, err)
	}
}
