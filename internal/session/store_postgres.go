package session

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists session projections.
//
// Assumed table: sessions (session_id PK, account_id, status, phone,
// last_error, last_connected_at, created_at, updated_at).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, rec Session) error {
	const q = `
INSERT INTO sessions (session_id, account_id, status, phone, last_error, last_connected_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id)
DO UPDATE SET status = $3, phone = $4, last_error = $5, last_connected_at = $6, updated_at = $8
`
	_, err := s.db.ExecContext(ctx, q,
		rec.SessionID,
		rec.AccountID,
		string(rec.Status),
		rec.Phone,
		rec.LastError,
		rec.LastConnectedAt,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (Session, bool, error) {
	const q = `
SELECT session_id, account_id, status, phone, last_error, last_connected_at, created_at, updated_at
FROM sessions
WHERE session_id = $1
`
	var rec Session
	var status string
	err := s.db.QueryRowContext(ctx, q, sessionID).Scan(
		&rec.SessionID,
		&rec.AccountID,
		&status,
		&rec.Phone,
		&rec.LastError,
		&rec.LastConnectedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	rec.Status = Status(status)
	return rec, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	const q = `DELETE FROM sessions WHERE session_id = $1`
	_, err := s.db.ExecContext(ctx, q, sessionID)
	return err
}

func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string) ([]Session, error) {
	const q = `
SELECT session_id, account_id, status, phone, last_error, last_connected_at, created_at, updated_at
FROM sessions
WHERE account_id = $1
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		var rec Session
		var status string
		if err := rows.Scan(
			&rec.SessionID,
			&rec.AccountID,
			&status,
			&rec.Phone,
			&rec.LastError,
			&rec.LastConnectedAt,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PostgresCredentialStore persists opaque transport credentials.
//
// Assumed table: session_credentials (session_id PK, credentials BYTEA,
// updated_at).
type PostgresCredentialStore struct {
	db *sql.DB
}

func NewPostgresCredentialStore(db *sql.DB) *PostgresCredentialStore {
	return &PostgresCredentialStore{db: db}
}

func (s *PostgresCredentialStore) Load(ctx context.Context, sessionID string) ([]byte, bool, error) {
	const q = `SELECT credentials FROM session_credentials WHERE session_id = $1`
	var b []byte
	if err := s.db.QueryRowContext(ctx, q, sessionID).Scan(&b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s *PostgresCredentialStore) Save(ctx context.Context, sessionID string, credentials []byte) error {
	const q = `
INSERT INTO session_credentials (session_id, credentials, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (session_id)
DO UPDATE SET credentials = $2, updated_at = NOW()
`
	_, err := s.db.ExecContext(ctx, q, sessionID, credentials)
	return err
}

func (s *PostgresCredentialStore) Delete(ctx context.Context, sessionID string) error {
	const q = `DELETE FROM session_credentials WHERE session_id = $1`
	_, err := s.db.ExecContext(ctx, q, sessionID)
	return err
}
