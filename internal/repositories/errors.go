package repositories

import "errors"

// ErrInvalidEntry indicates an entry without a key was offered for storage.
var ErrInvalidEntry = errors.New("cache entry requires a key")
