package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - account_id is required for tenancy isolation.
// - Audit logging is best-effort; critical flows must not block on it,
//   but reconciliation incidents must always be attempted.

type Event struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event (if applicable).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// Target identifiers (optional, depending on the event type).
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	SessionID  string `json:"session_id,omitempty" db:"session_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeAdminAdjust records manual credit adjustments.
	EventTypeAdminAdjust EventType = "admin_adjust"
	// EventTypeReconciliation records a refund/status mismatch that needs
	// investigation; these must never be silently ignored.
	EventTypeReconciliation EventType = "reconciliation_incident"
	// EventTypeSessionDeleted records explicit session deletion (credential purge).
	EventTypeSessionDeleted EventType = "session_deleted"
)
