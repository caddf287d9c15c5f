package release

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"github.com/NerdsCorp/game-update-server/pkg/blobstore"
	"github.com/NerdsCorp/game-update-server/pkg/bus"
)

// Store holds the external dependencies required by the API layer. DB is the
// raw pgx pool and is nil on SQLite deployments; ORM is always set.
type Store struct {
	DB    *pgxpool.Pool
	ORM   *gorm.DB
	Blobs blobstore.Store
	Bus   *bus.Bus
}
