package session

import "context"

// Transport is the boundary to the messaging-network wire library.
//
// Rules:
// - No wire-library calls outside this boundary.
// - Credentials are an opaque blob: issued and rotated by the transport,
//   persisted by the Supervisor, replayed on Dial for silent reconnection.
type Transport interface {
	// Dial opens a connection for sessionID. credentials may be nil for a
	// fresh pairing; the transport then emits a QR event.
	Dial(ctx context.Context, sessionID string, credentials []byte) (Conn, error)
}

// Conn is one live connection. Events() is closed when the connection is
// torn down; a disconnected event (with reason) precedes the close when the
// drop originated at the transport.
type Conn interface {
	Events() <-chan Event
	Send(ctx context.Context, address string, msg Payload) error
	CheckRegistered(ctx context.Context, address string) (bool, error)
	Close() error
}

// Payload is a provider-agnostic outbound message: text and/or exactly one
// media item with an optional caption.
type Payload struct {
	Text      string
	Media     []byte
	MediaMIME string
	Caption   string
}

type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventQR           EventKind = "qr"
	EventCredentials  EventKind = "credentials"
	EventDisconnected EventKind = "disconnected"
)

// Event is a transport notification consumed by the Supervisor's event loop.
type Event struct {
	Kind EventKind

	// Phone is set on connected events.
	Phone string
	// QR is set on qr events.
	QR string
	// Credentials is set on credentials events (issued or rotated).
	Credentials []byte
	// Reason is set on disconnected events; see classifyDisconnect.
	Reason string
}

// Well-known disconnect reasons. The transport may report others; anything
// not listed as terminal is treated as transient.
const (
	ReasonLoggedOut      = "logged_out"
	ReasonReplaced       = "replaced"
	ReasonNetworkTimeout = "network_timeout"
	ReasonStreamError    = "stream_error"
)

// classifyDisconnect decides whether a disconnect ends the session (user must
// re-pair) or is worth an automatic reconnect attempt.
func classifyDisconnect(reason string) (terminal bool) {
	switch reason {
	case ReasonLoggedOut, ReasonReplaced:
		return true
	default:
		return false
	}
}
