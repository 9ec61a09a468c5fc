package audit

import (
	"context"
	"database/sql"
	"time"
)

// PostgresLogger writes verification attempts to PostgreSQL.
type PostgresLogger struct {
	db *sql.DB
}

// NewPostgresLogger creates an audit logger backed by PostgreSQL.
func NewPostgresLogger(db *sql.DB) *PostgresLogger {
	return &PostgresLogger{db: db}
}

func (l *PostgresLogger) Log(ctx context.Context, entry *Entry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO checkin_audit (member_id, decision, kind, reason, token_ts, low_assurance, scanner_ip, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, entry.MemberID, entry.Decision, entry.Kind, entry.Reason, entry.TokenTS,
		entry.LowAssurance, entry.ScannerIP, entry.RequestID)
	return err
}

func (l *PostgresLogger) Query(ctx context.Context, memberID string, from, to time.Time, decision string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	if to.IsZero() {
		to = time.Now().Add(time.Hour)
	}

	var query string
	var args []interface{}

	switch {
	case memberID != "" && decision != "":
		query = auditSelect + ` WHERE member_id = $1 AND decision = $2 AND created_at >= $3 AND created_at <= $4
			ORDER BY created_at DESC LIMIT $5`
		args = []interface{}{memberID, decision, from, to, limit}
	case memberID != "":
		query = auditSelect + ` WHERE member_id = $1 AND created_at >= $2 AND created_at <= $3
			ORDER BY created_at DESC LIMIT $4`
		args = []interface{}{memberID, from, to, limit}
	case decision != "":
		query = auditSelect + ` WHERE decision = $1 AND created_at >= $2 AND created_at <= $3
			ORDER BY created_at DESC LIMIT $4`
		args = []interface{}{decision, from, to, limit}
	default:
		query = auditSelect + ` WHERE created_at >= $1 AND created_at <= $2
			ORDER BY created_at DESC LIMIT $3`
		args = []interface{}{from, to, limit}
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRows(rows)
}

func (l *PostgresLogger) RecentAccepted(ctx context.Context, limit int) ([]*Entry, error) {
	return l.Query(ctx, "", time.Time{}, time.Time{}, DecisionAccepted, limit)
}

// Migrate creates the checkin_audit table if it doesn't exist.
func (l *PostgresLogger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkin_audit (
			id             BIGSERIAL PRIMARY KEY,
			member_id      VARCHAR(64),
			decision       VARCHAR(16) NOT NULL,
			kind           VARCHAR(16) NOT NULL,
			reason         VARCHAR(32),
			token_ts       BIGINT,
			low_assurance  BOOLEAN DEFAULT FALSE,
			scanner_ip     VARCHAR(45),
			request_id     VARCHAR(64),
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_checkin_audit_member ON checkin_audit(member_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_checkin_audit_decision ON checkin_audit(decision, created_at DESC);
	`)
	return err
}

const auditSelect = `SELECT id, COALESCE(member_id, ''), decision, kind, COALESCE(reason, ''),
	COALESCE(token_ts, 0), low_assurance, COALESCE(scanner_ip, ''), COALESCE(request_id, ''), created_at
	FROM checkin_audit`

func scanRows(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.MemberID, &e.Decision, &e.Kind, &e.Reason,
			&e.TokenTS, &e.LowAssurance, &e.ScannerIP, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
