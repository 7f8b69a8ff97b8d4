package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"verigate/internal/verification/models"
)

// PostgresArchive persists terminal sessions durably. The full session is
// stored as JSONB next to the columns the dashboard aggregates over, so the
// schema stays stable while the session shape evolves.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive constructs a Postgres-backed session archive.
func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

// Schema is the DDL the archive expects. Deployments apply it via their
// migration tooling; integration tests apply it directly.
const Schema = `
CREATE TABLE IF NOT EXISTS session_history (
	id            UUID PRIMARY KEY,
	owner_id      TEXT        NOT NULL,
	status        TEXT        NOT NULL,
	overall       TEXT        NOT NULL DEFAULT '',
	confidence    INTEGER     NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ NOT NULL,
	session       JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_history_completed_at ON session_history (completed_at DESC);
`

func (a *PostgresArchive) Append(ctx context.Context, session *models.VerificationSession) error {
	if !session.Status.Terminal() {
		return fmt.Errorf("session %s is not terminal", session.ID)
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	overall := ""
	confidence := 0
	if session.Final != nil {
		overall = string(session.Final.Status)
		confidence = session.Final.Confidence
	}
	completedAt := session.StartedAt
	if session.CompletedAt != nil {
		completedAt = *session.CompletedAt
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO session_history (id, owner_id, status, overall, confidence, started_at, completed_at, session)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		session.ID, session.OwnerID, string(session.Status), overall, confidence,
		session.StartedAt, completedAt, data,
	)
	if err != nil {
		return fmt.Errorf("append session history: %w", err)
	}
	return nil
}

func (a *PostgresArchive) Recent(ctx context.Context, limit int) ([]*models.VerificationSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT session FROM session_history
		ORDER BY completed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query session history: %w", err)
	}
	defer rows.Close()

	var result []*models.VerificationSession
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan session history: %w", err)
		}
		var s models.VerificationSession
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode session history: %w", err)
		}
		result = append(result, &s)
	}
	return result, rows.Err()
}

func (a *PostgresArchive) CountBetween(ctx context.Context, from, to time.Time) (total, verified int, err error) {
	err = a.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE overall = 'verified')
		FROM session_history
		WHERE completed_at >= $1 AND completed_at < $2`,
		from, to,
	).Scan(&total, &verified)
	if err != nil {
		return 0, 0, fmt.Errorf("count session history: %w", err)
	}
	return total, verified, nil
}
