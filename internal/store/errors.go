package store

import "errors"

// Sentinel errors for persistent store operations. Callers must be able to
// tell a missing record apart from a failed operation, so the three
// conditions stay distinct.
var (
	ErrNotOpen       = errors.New("store is not open")
	ErrNotFound      = errors.New("record not found")
	ErrTxFailed      = errors.New("store transaction failed")
	ErrInvalidConfig = errors.New("invalid store configuration")
	ErrInvalidDriver = errors.New("invalid store driver")
)
