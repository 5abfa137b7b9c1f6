package transport

import "github.com/pkg/errors"

var (
	// ErrMissingToken is returned when Connect is called without a credential; nothing is dialed.
	ErrMissingToken = errors.New("bearer token is required")
	// ErrHandshake wraps every failure to establish an acknowledged session.
	ErrHandshake = errors.New("transport handshake failed")
	// ErrNotConnected is the local guard for subscribe and publish outside the Connected state.
	ErrNotConnected = errors.New("channel is not connected")
	// ErrAlreadyConnected rejects a second Connect; a Client serves one session at a time.
	ErrAlreadyConnected = errors.New("client already has an active session")
)
