package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends events to the audit_events table. Append-only by
// contract; there is no update or delete path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, account_id, type, actor_user_id, actor_role, campaign_id, session_id, message, metadata, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.AccountID,
		string(e.Type),
		e.ActorUserID,
		e.ActorRole,
		e.CampaignID,
		e.SessionID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
