package release

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes constructs the chi router containing the public and admin API.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		// Public, read-only projection of the registry.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/health", a.handleHealth)
			r.Get("/version", a.handleActive(KindGame))
			r.Get("/version/history", a.handleHistory(KindGame))
			r.Get("/launcher/version", a.handleActive(KindLauncher))
			r.Get("/launcher/history", a.handleHistory(KindLauncher))
		})

		// Mutating endpoints require the admin capability. Uploads are
		// excluded from the timeout middleware; large builds take a while.
		r.Group(func(r chi.Router) {
			r.Use(a.requireAdmin)
			r.Post("/upload", a.handleUpload)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Post("/version/{version}/activate", a.handleActivate(KindGame))
				r.Post("/launcher/version/{version}/activate", a.handleActivate(KindLauncher))
				r.Post("/version/deactivate", a.handleDeactivate(KindGame))
				r.Post("/launcher/version/deactivate", a.handleDeactivate(KindLauncher))
				r.Delete("/version/{version}", a.handleDelete(KindGame))
				r.Delete("/launcher/version/{version}", a.handleDelete(KindLauncher))
				r.Patch("/version/{version}/notes", a.handleNotes(KindGame))
				r.Patch("/launcher/version/{version}/notes", a.handleNotes(KindLauncher))
				r.Get("/stats", a.handleStats)
				r.Get("/stats/{kind}", a.handleKindStats)
			})
		})
	})

	r.Get("/downloads/{filename}", a.handleDownload)

	return r, nil
}

// requireAdmin is the capability check in front of every mutating call. The
// engine trusts that callers passing this gate are authorized; how the token
// is provisioned is outside its scope.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.config.AdminToken == "" {
			respondJSON(w, http.StatusForbidden, map[string]any{"error": "admin API is disabled: no admin token configured"})
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(a.config.AdminToken)) != 1 {
			respondJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid or missing admin token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
