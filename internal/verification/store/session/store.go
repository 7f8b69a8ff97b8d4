// Package session persists verification sessions: an active set that is
// mutated through single-writer updates, and a historical set that terminal
// sessions move into and never leave.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"verigate/internal/verification/models"
)

// Store is the write side of the session lifecycle.
//
// Update is the only mutation path: it runs fn on the stored session under
// the store's lock, which is what makes session status transitions safe
// against concurrent cancel/complete calls. Updating a terminal session
// returns sentinel.ErrInvalidState without running fn.
type Store interface {
	Create(ctx context.Context, session *models.VerificationSession) error
	Find(ctx context.Context, id uuid.UUID) (*models.VerificationSession, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*models.VerificationSession) error) (*models.VerificationSession, error)

	// Active lists non-terminal sessions, most recent first.
	Active(ctx context.Context) ([]*models.VerificationSession, error)

	// History lists terminal sessions, most recently completed first.
	History(ctx context.Context, limit int) ([]*models.VerificationSession, error)
}

// Archive is an optional durable sink for terminal sessions, consumed by the
// dashboard's aggregate queries. The in-memory store satisfies reads on its
// own; deployments wanting durable history wire the Postgres archive.
type Archive interface {
	Append(ctx context.Context, session *models.VerificationSession) error
	Recent(ctx context.Context, limit int) ([]*models.VerificationSession, error)
	CountBetween(ctx context.Context, from, to time.Time) (total, verified int, err error)
}
