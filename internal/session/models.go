package session

import "time"

// Session is the durable projection of connection state.
// The live handle (socket, retry counter, pending QR) is runtime-only and
// owned exclusively by the Supervisor; it is never persisted.
type Session struct {
	// SessionID is unique and externally chosen by the caller.
	SessionID string `json:"session_id" db:"session_id"`
	AccountID string `json:"account_id" db:"account_id"`

	Status Status `json:"status" db:"status"`

	// Phone is the paired identity, known once the transport connects.
	Phone string `json:"phone,omitempty" db:"phone"`

	LastError       string     `json:"last_error,omitempty" db:"last_error"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty" db:"last_connected_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusCreated      Status = "created"
	StatusQRPending    Status = "qr_pending"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
)

// PairingResult is what a bounded QR wait resolves to: either a pairing code
// to show the user, or an already-connected session (silent reconnection).
type PairingResult struct {
	QR        string `json:"qr,omitempty"`
	Connected bool   `json:"connected"`
	Phone     string `json:"phone,omitempty"`
}
