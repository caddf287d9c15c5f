package release

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/NerdsCorp/game-update-server/pkg/db"
)

// KindStats aggregates per-kind registry counters for the admin dashboard.
type KindStats struct {
	Kind          string  `json:"kind" db:"kind"`
	Releases      int64   `json:"releases" db:"releases"`
	Downloads     int64   `json:"downloads" db:"downloads"`
	ActiveVersion *string `json:"active_version" db:"active_version"`
}

const statsQuery = `
SELECT kind,
       COUNT(*)                                   AS releases,
       COALESCE(SUM(download_count), 0)           AS downloads,
       MAX(CASE WHEN is_active THEN version END)  AS active_version
FROM releases
GROUP BY kind
ORDER BY kind`

// handleStats reads aggregates straight from the database. The raw pool is
// preferred where available; SQLite deployments go through the ORM handle.
func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := []KindStats{}

	if a.store.DB != nil {
		if err := db.Select(r.Context(), a.store.DB, &stats, statsQuery); err != nil {
			respondError(w, err)
			return
		}
	} else {
		if err := a.store.ORM.WithContext(r.Context()).Raw(statsQuery).Scan(&stats).Error; err != nil {
			respondError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{"kinds": stats})
}

const kindStatsQuery = `
SELECT kind,
       COUNT(*)                                   AS releases,
       COALESCE(SUM(download_count), 0)           AS downloads,
       MAX(CASE WHEN is_active THEN version END)  AS active_version
FROM releases
WHERE kind = $1
GROUP BY kind`

// The ORM path binds positionally, so the placeholder differs.
const kindStatsQueryORM = `
SELECT kind,
       COUNT(*)                                   AS releases,
       COALESCE(SUM(download_count), 0)           AS downloads,
       MAX(CASE WHEN is_active THEN version END)  AS active_version
FROM releases
WHERE kind = ?
GROUP BY kind`

// handleKindStats returns the aggregate row for a single kind. A kind with
// no releases yet reports zeroes rather than 404.
func (a *API) handleKindStats(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondError(w, err)
		return
	}

	stats := KindStats{Kind: string(kind)}
	if a.store.DB != nil {
		err := db.Get(r.Context(), a.store.DB, &stats, kindStatsQuery, string(kind))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			respondError(w, err)
			return
		}
	} else {
		res := a.store.ORM.WithContext(r.Context()).Raw(kindStatsQueryORM, string(kind)).Scan(&stats)
		if res.Error != nil {
			respondError(w, res.Error)
			return
		}
	}

	respondJSON(w, http.StatusOK, stats)
}
