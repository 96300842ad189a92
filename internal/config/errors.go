package config

import "errors"

// ErrNotFound is returned when a requested record does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrInactive is returned when a usage update targets a revoked record.
var ErrInactive = errors.New("record is inactive")

// ErrConflict is returned when an insert collides with an existing key.
var ErrConflict = errors.New("record already exists")
