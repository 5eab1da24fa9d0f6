package credit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository abstracts ledger persistence.
//
// Apply must atomically store the new balance and append the transaction,
// and must fail with ErrStaleBalance when the stored balance no longer
// matches expected (compare-and-swap guard for out-of-process writers).
type Repository interface {
	Balance(ctx context.Context, accountID string) (int64, bool, error)
	Apply(ctx context.Context, accountID string, expected, newBalance int64, txn Transaction) error
	Transactions(ctx context.Context, accountID string, limit int) ([]Transaction, error)
}

var (
	ErrAccountNotFound     = errors.New("credit: account not found")
	ErrInsufficientBalance = errors.New("credit: insufficient balance")
	ErrInvalidArgument     = errors.New("credit: invalid argument")
	ErrStaleBalance        = errors.New("credit: stale balance")
)

// Service owns per-account balances.
//
// Contract:
// - Reserve is the only balance-decreasing core operation and validates first.
// - Every mutation appends exactly one transaction carrying the resulting balance.
// - Mutations are serialized per account (accountLock) and fully parallel
//   across accounts. The repository CAS guard backs this up.
type Service struct {
	repo  Repository
	clock func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now, locks: map[string]*sync.Mutex{}}
}

func (s *Service) accountLock(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	return l
}

// Reserve debits the full campaign cost upfront.
// Fails with ErrInsufficientBalance before any write when the account is short.
func (s *Service) Reserve(ctx context.Context, accountID string, amount int64, campaignID string) (int64, error) {
	if accountID == "" || amount <= 0 {
		return 0, ErrInvalidArgument
	}

	l := s.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	bal, ok, err := s.repo.Balance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrAccountNotFound
	}
	if bal < amount {
		return 0, ErrInsufficientBalance
	}

	newBal := bal - amount
	txn := Transaction{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Kind:         KindReserve,
		Amount:       -amount,
		BalanceAfter: newBal,
		CampaignID:   campaignID,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.repo.Apply(ctx, accountID, bal, newBal, txn); err != nil {
		return 0, err
	}
	return newBal, nil
}

// Refund credits amount back for a campaign.
// Idempotency is the caller's responsibility (Campaign.Credits.Deducted gate);
// the ledger itself records every refund it is asked to post.
func (s *Service) Refund(ctx context.Context, accountID string, amount int64, campaignID, reason string) (int64, error) {
	if accountID == "" || amount <= 0 {
		return 0, ErrInvalidArgument
	}

	l := s.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	bal, ok, err := s.repo.Balance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrAccountNotFound
	}

	newBal := bal + amount
	txn := Transaction{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Kind:         KindRefund,
		Amount:       amount,
		BalanceAfter: newBal,
		CampaignID:   campaignID,
		Note:         reason,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.repo.Apply(ctx, accountID, bal, newBal, txn); err != nil {
		return 0, err
	}
	return newBal, nil
}

// Adjust applies a signed delta on the admin path. The resulting balance must
// stay non-negative. Reason is mandatory for audit.
func (s *Service) Adjust(ctx context.Context, accountID string, delta int64, reason string) (int64, error) {
	if accountID == "" || delta == 0 || reason == "" {
		return 0, ErrInvalidArgument
	}

	l := s.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	bal, ok, err := s.repo.Balance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrAccountNotFound
	}

	newBal := bal + delta
	if newBal < 0 {
		return 0, ErrInsufficientBalance
	}
	txn := Transaction{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Kind:         KindManualAdjust,
		Amount:       delta,
		BalanceAfter: newBal,
		Note:         reason,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.repo.Apply(ctx, accountID, bal, newBal, txn); err != nil {
		return 0, err
	}
	return newBal, nil
}

// Refill credits units from an approved plan purchase.
// Unlike Reserve/Refund it tolerates a missing account: a first refill
// brings the account into the ledger at the refill amount.
func (s *Service) Refill(ctx context.Context, accountID string, amount int64, note string) (int64, error) {
	if accountID == "" || amount <= 0 {
		return 0, ErrInvalidArgument
	}

	l := s.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	bal, _, err := s.repo.Balance(ctx, accountID)
	if err != nil {
		return 0, err
	}

	newBal := bal + amount
	txn := Transaction{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		Kind:         KindPlanRefill,
		Amount:       amount,
		BalanceAfter: newBal,
		Note:         note,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.repo.Apply(ctx, accountID, bal, newBal, txn); err != nil {
		return 0, err
	}
	return newBal, nil
}

func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	if accountID == "" {
		return 0, ErrInvalidArgument
	}
	bal, ok, err := s.repo.Balance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrAccountNotFound
	}
	return bal, nil
}

func (s *Service) Transactions(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	if accountID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.Transactions(ctx, accountID, limit)
}
