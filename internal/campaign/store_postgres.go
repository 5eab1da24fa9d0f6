package campaign

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore persists campaigns in a single flattened table.
//
// Assumed table: campaigns (id PK, account_id indexed, recipient_list JSONB,
// the remaining sub-structs flattened into columns). Rows are never deleted.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const campaignColumns = `
id, account_id, kind, text, has_media, media_ref, caption,
recipient_total, recipient_list,
cost_per_unit, total_cost, deducted,
session_id, status,
sent, failed, skipped,
started_at, completed_at, error, created_at, updated_at
`

func (s *PostgresStore) Create(ctx context.Context, c Campaign) error {
	list, err := json.Marshal(c.Recipients.List)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}

	const q = `
INSERT INTO campaigns (` + campaignColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7,
        $8, $9,
        $10, $11, $12,
        $13, $14,
        $15, $16, $17,
        $18, $19, $20, $21, $22)
ON CONFLICT (id) DO NOTHING
`
	res, err := s.db.ExecContext(ctx, q,
		c.ID, c.AccountID, string(c.Kind),
		c.Message.Text, c.Message.HasMedia, c.Message.MediaRef, c.Message.Caption,
		c.Recipients.Total, list,
		c.Credits.CostPerUnit, c.Credits.TotalCost, c.Credits.Deducted,
		c.SessionID, string(c.Status),
		c.Results.Sent, c.Results.Failed, c.Results.Skipped,
		c.StartedAt, c.CompletedAt, c.Error, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, accountID, id string) (Campaign, bool, error) {
	const q = `
SELECT ` + campaignColumns + `
FROM campaigns
WHERE account_id = $1 AND id = $2
`
	c, err := scanCampaign(s.db.QueryRowContext(ctx, q, accountID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, false, nil
		}
		return Campaign{}, false, err
	}
	return c, true, nil
}

func (s *PostgresStore) Update(ctx context.Context, c Campaign) error {
	const q = `
UPDATE campaigns
SET status = $3, deducted = $4,
    sent = $5, failed = $6, skipped = $7,
    started_at = $8, completed_at = $9, error = $10, updated_at = $11
WHERE account_id = $1 AND id = $2
`
	res, err := s.db.ExecContext(ctx, q,
		c.AccountID, c.ID,
		string(c.Status), c.Credits.Deducted,
		c.Results.Sent, c.Results.Failed, c.Results.Skipped,
		c.StartedAt, c.CompletedAt, c.Error, c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]Campaign, error) {
	const q = `
SELECT ` + campaignColumns + `
FROM campaigns
WHERE account_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := s.db.QueryContext(ctx, q, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Campaign, 0, limit)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var (
		c    Campaign
		kind string
		stat string
		list []byte
	)
	if err := row.Scan(
		&c.ID, &c.AccountID, &kind,
		&c.Message.Text, &c.Message.HasMedia, &c.Message.MediaRef, &c.Message.Caption,
		&c.Recipients.Total, &list,
		&c.Credits.CostPerUnit, &c.Credits.TotalCost, &c.Credits.Deducted,
		&c.SessionID, &stat,
		&c.Results.Sent, &c.Results.Failed, &c.Results.Skipped,
		&c.StartedAt, &c.CompletedAt, &c.Error, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return Campaign{}, err
	}
	c.Kind = Kind(kind)
	c.Status = Status(stat)
	if len(list) > 0 {
		if err := json.Unmarshal(list, &c.Recipients.List); err != nil {
			return Campaign{}, fmt.Errorf("decode recipients: %w", err)
		}
	}
	return c, nil
}
