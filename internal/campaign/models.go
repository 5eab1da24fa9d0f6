package campaign

import "time"

type Kind string

const (
	KindSingle Kind = "single"
	KindBulk   Kind = "bulk"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// canTransition is the single source of truth for the campaign state graph:
// PENDING → IN_PROGRESS → {COMPLETED, FAILED}; PENDING|IN_PROGRESS → CANCELLED.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusCancelled
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// MessageSpec is the campaign payload description. HasMedia is recorded at
// creation (it decides the per-unit cost) and never recomputed.
type MessageSpec struct {
	Text     string `json:"text,omitempty" db:"text"`
	HasMedia bool   `json:"has_media" db:"has_media"`
	MediaRef string `json:"media_ref,omitempty" db:"media_ref"`
	Caption  string `json:"caption,omitempty" db:"caption"`
}

type Recipients struct {
	Total int      `json:"total" db:"total"`
	List  []string `json:"list,omitempty" db:"list"`
}

// Credits captures the campaign's ledger footprint.
// Invariant: TotalCost = CostPerUnit × Recipients.Total, computed once at
// creation and immutable thereafter. Deducted is the single idempotency flag
// guarding refund-on-failure/cancel.
type Credits struct {
	CostPerUnit int64 `json:"cost_per_unit" db:"cost_per_unit"`
	TotalCost   int64 `json:"total_cost" db:"total_cost"`
	Deducted    bool  `json:"deducted" db:"deducted"`
}

type Results struct {
	Sent    int `json:"sent" db:"sent"`
	Failed  int `json:"failed" db:"failed"`
	Skipped int `json:"skipped" db:"skipped"`
}

// Campaign is one logical send request and its tracked outcome.
// Campaigns are never deleted (audit trail).
type Campaign struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`

	Kind Kind `json:"kind" db:"kind"`

	Message    MessageSpec `json:"message"`
	Recipients Recipients  `json:"recipients"`
	Credits    Credits     `json:"credits"`

	SessionID string `json:"session_id" db:"session_id"`

	Status  Status  `json:"status" db:"status"`
	Results Results `json:"results"`

	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	Error string `json:"error,omitempty" db:"error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CostPerUnit is the credit price of one recipient (2 with media, 1 without).
func CostPerUnit(hasMedia bool) int64 {
	if hasMedia {
		return 2
	}
	return 1
}
