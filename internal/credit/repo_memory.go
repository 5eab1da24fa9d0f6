package credit

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory ledger repository for tests and early
// development. The CAS guard in Apply mirrors the Postgres implementation.
type MemoryRepo struct {
	mu sync.Mutex

	balances map[string]int64
	ledger   []Transaction
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{balances: map[string]int64{}}
}

// Seed sets an initial balance without a ledger entry. Tests only.
func (r *MemoryRepo) Seed(accountID string, balance int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[accountID] = balance
}

func (r *MemoryRepo) Balance(ctx context.Context, accountID string) (int64, bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	bal, ok := r.balances[accountID]
	return bal, ok, nil
}

func (r *MemoryRepo) Apply(ctx context.Context, accountID string, expected, newBalance int64, txn Transaction) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.balances[accountID]
	if ok && cur != expected {
		return ErrStaleBalance
	}
	if !ok && expected != 0 {
		return ErrStaleBalance
	}
	r.balances[accountID] = newBalance
	r.ledger = append(r.ledger, txn)
	return nil
}

func (r *MemoryRepo) Transactions(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Transaction, 0)
	// Newest first.
	for i := len(r.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if r.ledger[i].AccountID == accountID {
			out = append(out, r.ledger[i])
		}
	}
	return out, nil
}
