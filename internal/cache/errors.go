package cache

import "errors"

// ErrNotFound is returned when a key or file is not cached.
var ErrNotFound = errors.New("cache: not found")
