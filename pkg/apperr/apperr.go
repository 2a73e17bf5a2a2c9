package apperr

import (
	"database/sql"
	"errors"
	"net/http"
)

// Sentinel errors for the failure classes the handlers and clients care
// about. Repository and service code wraps causes with fmt.Errorf("%w: ...").
var (
	// ErrPermissionDenied: no edit/view grant. Not retried.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound: stale identifier, e.g. item already deleted by another user.
	ErrNotFound = errors.New("not found")
	// ErrInvalidMove: the move would nest an item under its own descendant.
	ErrInvalidMove = errors.New("invalid move")
	// ErrTransientStore: durable-write failure before any state was published.
	// The whole operation is safe to retry.
	ErrTransientStore = errors.New("transient store failure")
)

// Status maps an error onto the HTTP status the REST layer should return.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidMove):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromStore classifies a database/sql error. sql.ErrNoRows means a stale
// identifier; anything else is treated as transient and retryable.
func FromStore(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return errors.Join(ErrTransientStore, err)
}
