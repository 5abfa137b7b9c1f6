package chat

// ConnectionState tracks the persistent channel as seen by the session.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
)

// Mode is decided once when a session starts.
type Mode string

const (
	// ModeConnected routes sends over the persistent channel.
	ModeConnected Mode = "connected"
	// ModeFallback routes every send through the synchronous REST endpoint.
	ModeFallback Mode = "fallback"
)
