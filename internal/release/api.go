package release

import (
	"errors"
	"log"
	"strings"
)

// Config controls runtime behaviour for the HTTP handlers.
type Config struct {
	// BaseURL is the externally visible URL prefix used when building
	// download links for clients.
	BaseURL string
	// AdminToken gates every mutating endpoint. When empty the admin API
	// is disabled entirely.
	AdminToken string
}

// API wires the engine, dependency store and configuration for the HTTP
// handlers. Authentication mechanics live outside the engine: the API only
// performs the capability check before mutating calls.
type API struct {
	svc    *Service
	store  *Store
	config Config
	logger *log.Logger
}

// NewAPI initialises the HTTP layer.
func NewAPI(svc *Service, store *Store, logger *log.Logger, cfg Config) (*API, error) {
	if svc == nil {
		return nil, errors.New("release: service is required")
	}
	if store == nil || store.ORM == nil {
		return nil, errors.New("release: store with ORM is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &API{svc: svc, store: store, config: cfg, logger: logger}, nil
}
