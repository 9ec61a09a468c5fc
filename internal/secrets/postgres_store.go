package secrets

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists member secrets in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed secret store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create stores a newly issued secret.
func (p *PostgresStore) Create(ctx context.Context, s *Secret) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO member_secrets (member_id, secret, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (member_id) DO NOTHING
	`, s.MemberID, s.Secret, s.CreatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

// Get retrieves the current secret for a member.
func (p *PostgresStore) Get(ctx context.Context, memberID string) (*Secret, error) {
	s := &Secret{}
	var rotatedAt sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT member_id, secret, created_at, rotated_at
		FROM member_secrets WHERE member_id = $1
	`, memberID).Scan(&s.MemberID, &s.Secret, &s.CreatedAt, &rotatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if rotatedAt.Valid {
		s.RotatedAt = &rotatedAt.Time
	}
	return s, nil
}

// Replace swaps in a new secret in a single UPDATE. Concurrent readers see
// the old row or the new row, never a mix.
func (p *PostgresStore) Replace(ctx context.Context, memberID, newSecret string, rotatedAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE member_secrets SET secret = $2, rotated_at = $3 WHERE member_id = $1
	`, memberID, newSecret, rotatedAt)
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

// Migrate creates the member_secrets table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS member_secrets (
			member_id   VARCHAR(64) PRIMARY KEY,
			secret      VARCHAR(64) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			rotated_at  TIMESTAMPTZ
		);
	`)
	return err
}
