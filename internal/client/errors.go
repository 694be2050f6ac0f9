// Package client wires the sync engine together: repository, store,
// gateway, and processor, plus the single consumer goroutine that drives
// inbound events. This file centralizes the client-level error values so
// that they can be consistently returned by client methods and translated
// into HTTP status codes by the handler layer.
package client

import "errors"

var (
	// ErrThoughtNotFound indicates that the requested thought does not
	// exist in the current state.
	ErrThoughtNotFound = errors.New("thought not found")

	// ErrEmptyContent is returned when a message send carries no content.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrTooLong is returned when message content exceeds the maximum
	// allowed length.
	ErrTooLong = errors.New("message content too long")

	// ErrPublicImmutable is returned on attempts to remove the public
	// thought, which always exists.
	ErrPublicImmutable = errors.New("the public thought cannot be removed")

	// ErrInvalidKey is returned when an imported secret key or a peer
	// public key cannot be decoded.
	ErrInvalidKey = errors.New("invalid key")
)
