package repository

import "errors"

// ErrUniqueViolation is returned when a write collides with a uniqueness
// constraint that the caller is expected to translate into a domain error.
var ErrUniqueViolation = errors.New("unique constraint violation")
