// Package release implements the version and release activation engine for
// the update server: artifact ingestion, version metadata, and the guarantee
// that at most one release per kind is active at any time.
package release

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Kind is the category of distributable artifact. The set is closed.
type Kind string

const (
	KindGame     Kind = "game"
	KindLauncher Kind = "launcher"
)

// Kinds lists every valid artifact kind.
func Kinds() []Kind { return []Kind{KindGame, KindLauncher} }

// ParseKind validates a kind string received from the outside.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindGame:
		return KindGame, nil
	case KindLauncher:
		return KindLauncher, nil
	}
	return "", fmt.Errorf("%w: unknown artifact kind %q", ErrValidation, s)
}

var versionPattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._-]{0,63}$`)

// ValidVersion reports whether v is a safe version string. Version strings
// become part of storage keys, so path separators are rejected outright.
func ValidVersion(v string) bool {
	return versionPattern.MatchString(v)
}

// StorageKey derives the artifact storage key for a (kind, version) pair,
// e.g. "game-v1.2.3.zip".
func StorageKey(kind Kind, version string) string {
	return fmt.Sprintf("%s-v%s.zip", kind, version)
}

// Release is one uploaded build of a kind. Version, Filename, SHA256,
// SizeBytes and UploadedAt are immutable after upload; IsActive changes only
// through activation, DownloadCount only grows.
type Release struct {
	ID            uuid.UUID      `json:"id"`
	Kind          Kind           `json:"kind"`
	Version       string         `json:"version"`
	Filename      string         `json:"filename"`
	SHA256        string         `json:"sha256"`
	SizeBytes     int64          `json:"size_bytes"`
	ReleaseNotes  string         `json:"release_notes"`
	Meta          map[string]any `json:"meta,omitempty"`
	IsActive      bool           `json:"is_active"`
	DownloadCount int64          `json:"download_count"`
	UploadedAt    time.Time      `json:"uploaded_at"`
}
