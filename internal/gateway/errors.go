// Package gateway manages the relay side of the sync engine: the relay set,
// live subscriptions, publishing, historical queries, and profile fetches.
// This file centralizes the transport-level error values so that they can be
// consistently returned by gateway methods and checked by callers.
package gateway

import (
	"errors"
	"fmt"
)

// ErrTransport is the root of every transport failure. Callers that do not
// care about the precise cause can errors.Is against it alone.
var ErrTransport = errors.New("transport failure")

var (
	// ErrNoRelays is returned when an operation needs relays and none are
	// configured.
	ErrNoRelays = fmt.Errorf("%w: no relays configured", ErrTransport)

	// ErrNoIdentity is returned when an operation needs a signing identity
	// and none is loaded.
	ErrNoIdentity = fmt.Errorf("%w: no identity loaded", ErrTransport)

	// ErrAllRelaysRejected is returned when every configured relay refused
	// a published event.
	ErrAllRelaysRejected = fmt.Errorf("%w: all relays rejected the event", ErrTransport)
)
