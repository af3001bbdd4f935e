package subscriptions

import "errors"

var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence error")
	// ErrConflict is returned by collaborator operations that refuse to remove
	// rows still referenced elsewhere. Ledger writes never return it.
	ErrConflict = errors.New("conflict")
)
