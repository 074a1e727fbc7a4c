package store

import "errors"

// ErrNotFound indicates that a single-row write matched nothing.
var ErrNotFound = errors.New("record not found")
