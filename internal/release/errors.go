package release

import "errors"

var (
	// ErrValidation covers malformed input: bad kind, empty or unsafe
	// version strings, size mismatches, missing upload fields.
	ErrValidation = errors.New("validation error")
	// ErrDuplicateVersion is returned when a (kind, version) pair already
	// exists in the registry.
	ErrDuplicateVersion = errors.New("version already exists")
	// ErrVersionNotFound is returned when an operation targets a release
	// that is not in the registry.
	ErrVersionNotFound = errors.New("version not found")
	// ErrActiveVersion rejects deletion (or notes edits) of the currently
	// active release.
	ErrActiveVersion = errors.New("version is active")
	// ErrActivationConflict signals a lost activation race. It is transient;
	// callers are expected to retry with bounded attempts.
	ErrActivationConflict = errors.New("activation conflict")
	// ErrNoActiveVersion is returned by Active when no release of the kind
	// has been activated.
	ErrNoActiveVersion = errors.New("no active version")
	// ErrPayloadTooLarge rejects uploads exceeding the configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")
)
