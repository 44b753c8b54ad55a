package storage

import "errors"

// Row-level sentinels returned by Store implementations. Engines translate
// these into model.Error kinds with the business context attached; the
// store itself knows nothing about conflict/stale-commitment semantics.
var (
	ErrNotFound = errors.New("storage: record not found")
	ErrConflict = errors.New("storage: record already exists")
)
