// Package code persists verification codes.
//
// Error Contract:
// All store methods follow this pattern:
// - Return sentinel.ErrNotFound (wrapped) when the code does not exist
// - Return sentinel.ErrExpired / ErrUsageExhausted / ErrInvalidState from
//   Consume when the code cannot be spent, after recording the matching
//   status transition
// - Return wrapped errors with context for infrastructure failures
package code

import (
	"context"
	"time"

	"github.com/google/uuid"

	"verigate/internal/verification/models"
)

// Store is the persistence boundary for verification codes. Consume must be
// atomic per code: two concurrent presentations of a single-use code must not
// both succeed.
type Store interface {
	Create(ctx context.Context, code *models.VerificationCode) error
	Find(ctx context.Context, id uuid.UUID) (*models.VerificationCode, error)

	// Consume validates the code against now (status, expiry, usage budget)
	// and spends one usage under the store's per-code lock. It returns the
	// updated code, or the code plus a sentinel error describing why it
	// cannot be spent.
	Consume(ctx context.Context, id uuid.UUID, now time.Time) (*models.VerificationCode, error)

	// MarkStatus applies a monotonic status transition recorded by the
	// validator (expired, used, revoked).
	MarkStatus(ctx context.Context, id uuid.UUID, status models.CodeStatus) error

	// DeleteExpired removes codes whose expiry passed before now, returning
	// the number deleted. Time is injected for testability.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
