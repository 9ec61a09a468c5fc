package members

import (
	"context"
	"database/sql"
)

// PostgresStore persists members in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed member store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create stores a new member.
func (p *PostgresStore) Create(ctx context.Context, m *Member) error {
	tier := m.Tier
	if tier == "" {
		tier = TierBronze
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO members (id, display_name, tier, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.DisplayName, tier, m.CreatedAt)
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

// Get retrieves a member by ID.
func (p *PostgresStore) Get(ctx context.Context, id string) (*Member, error) {
	m := &Member{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, display_name, tier, created_at FROM members WHERE id = $1
	`, id).Scan(&m.ID, &m.DisplayName, &m.Tier, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateTier changes a member's tier.
func (p *PostgresStore) UpdateTier(ctx context.Context, id, tier string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE members SET tier = $2 WHERE id = $1
	`, id, tier)
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

// Count returns the number of registered members.
func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM members`).Scan(&n)
	return n, err
}

// Migrate creates the members table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS members (
			id            VARCHAR(64) PRIMARY KEY,
			display_name  VARCHAR(200) NOT NULL,
			tier          VARCHAR(16) NOT NULL DEFAULT 'bronze',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}
