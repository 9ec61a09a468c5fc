package auth

import (
	"context"
	"database/sql"
)

// PostgresStore persists session keys in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed auth store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create stores a new session key
func (p *PostgresStore) Create(ctx context.Context, key *SessionKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO device_sessions (id, hash, member_id, label, created_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, key.ID, key.Hash, key.MemberID, key.Label, key.CreatedAt, key.Revoked)
	return err
}

// GetByHash retrieves a session key by its hash
func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*SessionKey, error) {
	key := &SessionKey{}
	var lastUsed sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT id, hash, member_id, label, created_at, last_used, revoked
		FROM device_sessions WHERE hash = $1 AND revoked = FALSE
	`, hash).Scan(
		&key.ID, &key.Hash, &key.MemberID, &key.Label,
		&key.CreatedAt, &lastUsed, &key.Revoked,
	)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}

	if lastUsed.Valid {
		key.LastUsed = lastUsed.Time
	}
	return key, nil
}

// GetByMember retrieves all session keys for a member
func (p *PostgresStore) GetByMember(ctx context.Context, memberID string) ([]*SessionKey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, hash, member_id, label, created_at, last_used, revoked
		FROM device_sessions WHERE member_id = $1 ORDER BY created_at DESC
	`, memberID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []*SessionKey
	for rows.Next() {
		key := &SessionKey{}
		var lastUsed sql.NullTime

		if err := rows.Scan(
			&key.ID, &key.Hash, &key.MemberID, &key.Label,
			&key.CreatedAt, &lastUsed, &key.Revoked,
		); err != nil {
			return nil, err
		}

		if lastUsed.Valid {
			key.LastUsed = lastUsed.Time
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Update updates a session key
func (p *PostgresStore) Update(ctx context.Context, key *SessionKey) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE device_sessions SET last_used = $1, revoked = $2 WHERE id = $3
	`, key.LastUsed, key.Revoked, key.ID)
	return err
}

// Delete removes a session key
func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM device_sessions WHERE id = $1`, id)
	return err
}

// Migrate creates the device_sessions table if it doesn't exist
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS device_sessions (
			id          VARCHAR(36) PRIMARY KEY,
			hash        VARCHAR(64) NOT NULL UNIQUE,
			member_id   VARCHAR(64) NOT NULL,
			label       VARCHAR(255),
			created_at  TIMESTAMPTZ DEFAULT NOW(),
			last_used   TIMESTAMPTZ,
			revoked     BOOLEAN DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_device_sessions_hash ON device_sessions(hash);
		CREATE INDEX IF NOT EXISTS idx_device_sessions_member ON device_sessions(member_id);
	`)
	return err
}
