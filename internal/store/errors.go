// Package store owns the canonical in-memory state of the sync engine and
// its persistence to the key-value repository. This file centralizes the
// store-level error values so that they can be consistently returned by
// store methods and checked by callers.
package store

import "errors"

// ErrPersistence wraps every save/load failure against the key-value
// repository. Callers branch on it with errors.Is; the underlying cause is
// preserved in the message.
var ErrPersistence = errors.New("persistence failure")
