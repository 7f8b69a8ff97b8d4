package code

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"verigate/internal/verification/models"
	"verigate/pkg/platform/sentinel"
)

// InMemoryStore keeps verification codes in memory for tests and single-node
// deployments. All mutations happen under one lock, which gives Consume its
// atomicity guarantee.
type InMemoryStore struct {
	mu    sync.RWMutex
	codes map[uuid.UUID]*models.VerificationCode
}

// NewInMemoryStore constructs an empty in-memory code store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{codes: make(map[uuid.UUID]*models.VerificationCode)}
}

func (s *InMemoryStore) Create(_ context.Context, code *models.VerificationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.codes[code.ID]; exists {
		return fmt.Errorf("code %s already exists: %w", code.ID, sentinel.ErrConflict)
	}
	stored := *code
	s.codes[code.ID] = &stored
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, id uuid.UUID) (*models.VerificationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.codes[id]
	if !ok {
		return nil, fmt.Errorf("code %s: %w", id, sentinel.ErrNotFound)
	}
	copied := *stored
	return &copied, nil
}

// Consume validates and spends one usage atomically. The returned code
// reflects the post-consume state; on sentinel errors it reflects the state
// recorded by the rejection (expired/used transitions included).
func (s *InMemoryStore) Consume(_ context.Context, id uuid.UUID, now time.Time) (*models.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.codes[id]
	if !ok {
		return nil, fmt.Errorf("code %s: %w", id, sentinel.ErrNotFound)
	}

	if stored.Status == models.CodeRevoked {
		copied := *stored
		return &copied, fmt.Errorf("code %s is revoked: %w", id, sentinel.ErrInvalidState)
	}
	if stored.Status == models.CodeUsed {
		copied := *stored
		return &copied, fmt.Errorf("code %s: %w", id, sentinel.ErrUsageExhausted)
	}
	if stored.IsExpired(now) {
		_ = stored.Transition(models.CodeExpired)
		copied := *stored
		return &copied, fmt.Errorf("code %s: %w", id, sentinel.ErrExpired)
	}
	if stored.UsageExhausted() {
		_ = stored.Transition(models.CodeUsed)
		copied := *stored
		return &copied, fmt.Errorf("code %s: %w", id, sentinel.ErrUsageExhausted)
	}

	if err := stored.ConsumeUsage(); err != nil {
		copied := *stored
		return &copied, fmt.Errorf("%s: %w", err, sentinel.ErrInvalidState)
	}
	copied := *stored
	return &copied, nil
}

func (s *InMemoryStore) MarkStatus(_ context.Context, id uuid.UUID, status models.CodeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.codes[id]
	if !ok {
		return fmt.Errorf("code %s: %w", id, sentinel.ErrNotFound)
	}
	if err := stored.Transition(status); err != nil {
		return fmt.Errorf("%s: %w", err, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, stored := range s.codes {
		if stored.ExpiresAt.Before(now) {
			delete(s.codes, id)
			deleted++
		}
	}
	return deleted, nil
}
