package domain

import (
	"errors"
	"net/http"
)

var (
	// ErrInput marks malformed payloads and shape violations.
	ErrInput = errors.New("invalid input")
	// ErrNotFound covers unknown uuids, categories and publication names, and
	// nodes the caller cannot view.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the caller can view a node but lacks
	// the required tier.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict covers stale last_update values, empty persists, duplicate
	// publication names and cyclic edges.
	ErrConflict = errors.New("conflict")
)

func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInput), errors.Is(err, ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
