package credit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"messaging-platform/pkg/utils"
)

// PostgresRepo persists the ledger in Postgres.
//
// Assumed tables:
// - credit_balances (account_id PK, balance, updated_at)
// - credit_transactions (immutable append-only)
//
// The service serializes writers per account in-process; the WHERE balance = $x
// guard in Apply catches any out-of-process writer and surfaces ErrStaleBalance
// instead of silently corrupting the ledger.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Balance(ctx context.Context, accountID string) (int64, bool, error) {
	const q = `
SELECT balance
FROM credit_balances
WHERE account_id = $1
`
	var bal int64
	if err := r.db.QueryRowContext(ctx, q, accountID).Scan(&bal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return bal, true, nil
}

func (r *PostgresRepo) Apply(ctx context.Context, accountID string, expected, newBalance int64, txn Transaction) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()

		const upsert = `
INSERT INTO credit_balances (account_id, balance, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (account_id)
DO UPDATE SET balance = $2, updated_at = $3
WHERE credit_balances.balance = $4
`
		res, err := tx.ExecContext(ctx, upsert, accountID, newBalance, now, expected)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrStaleBalance
		}

		const insert = `
INSERT INTO credit_transactions (id, account_id, kind, amount, balance_after, campaign_id, note, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
`
		_, err = tx.ExecContext(ctx, insert,
			txn.ID,
			txn.AccountID,
			string(txn.Kind),
			txn.Amount,
			txn.BalanceAfter,
			txn.CampaignID,
			txn.Note,
			txn.CreatedAt,
		)
		return err
	})
}

func (r *PostgresRepo) Transactions(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	const q = `
SELECT id, account_id, kind, amount, balance_after, COALESCE(campaign_id, ''), note, created_at
FROM credit_transactions
WHERE account_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Transaction, 0, limit)
	for rows.Next() {
		var t Transaction
		var kind string
		if err := rows.Scan(&t.ID, &t.AccountID, &kind, &t.Amount, &t.BalanceAfter, &t.CampaignID, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Kind = Kind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}
