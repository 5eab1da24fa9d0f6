package credit

import "time"

// Credit balances are whole prepaid units, not money minor units, but the
// money invariants from the wallet world still apply:
// - No balance update without a ledger transaction.
// - The transaction log is append-only (immutable).
// - Balance never goes negative; reserve validates before writing.
type Kind string

const (
	KindReserve      Kind = "reserve"       // upfront campaign debit
	KindRefund       Kind = "refund"        // compensating credit on failure/cancel
	KindManualAdjust Kind = "manual_adjust" // admin path
	KindPlanRefill   Kind = "plan_refill"   // plan purchase top-up
)

// Transaction is an immutable append-only ledger entry.
// Amount is signed: debits negative, credits positive.
// Invariant: BalanceAfter equals the account balance resulting from this entry.
type Transaction struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`

	Kind Kind `json:"kind" db:"kind"`

	Amount       int64 `json:"amount" db:"amount"`
	BalanceAfter int64 `json:"balance_after" db:"balance_after"`

	// CampaignID links reserve/refund entries to the campaign that caused them.
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`

	Note string `json:"note,omitempty" db:"note"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
