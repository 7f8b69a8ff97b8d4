package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"verigate/internal/verification/models"
	"verigate/pkg/platform/sentinel"
)

// InMemoryStore keeps sessions in memory. One lock covers both sets, so an
// Update observes a consistent world: a session is either active or
// historical, never both, and terminal sessions are immutable.
type InMemoryStore struct {
	mu      sync.RWMutex
	active  map[uuid.UUID]*models.VerificationSession
	history map[uuid.UUID]*models.VerificationSession
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		active:  make(map[uuid.UUID]*models.VerificationSession),
		history: make(map[uuid.UUID]*models.VerificationSession),
	}
}

func (s *InMemoryStore) Create(_ context.Context, session *models.VerificationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.active[session.ID]; exists {
		return fmt.Errorf("session %s already exists: %w", session.ID, sentinel.ErrConflict)
	}
	if _, exists := s.history[session.ID]; exists {
		return fmt.Errorf("session %s already exists: %w", session.ID, sentinel.ErrConflict)
	}
	copied := cloneSession(session)
	s.active[session.ID] = copied
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, id uuid.UUID) (*models.VerificationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if stored, ok := s.active[id]; ok {
		return cloneSession(stored), nil
	}
	if stored, ok := s.history[id]; ok {
		return cloneSession(stored), nil
	}
	return nil, fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
}

// Update mutates an active session under the store lock. When fn leaves the
// session in a terminal status it is moved into the historical set.
func (s *InMemoryStore) Update(_ context.Context, id uuid.UUID, fn func(*models.VerificationSession) error) (*models.VerificationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.active[id]
	if !ok {
		if _, done := s.history[id]; done {
			return nil, fmt.Errorf("session %s is terminal: %w", id, sentinel.ErrInvalidState)
		}
		return nil, fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}

	if err := fn(stored); err != nil {
		return nil, err
	}

	if stored.Status.Terminal() {
		delete(s.active, id)
		s.history[id] = stored
	}
	return cloneSession(stored), nil
}

func (s *InMemoryStore) Active(_ context.Context) ([]*models.VerificationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*models.VerificationSession, 0, len(s.active))
	for _, stored := range s.active {
		result = append(result, cloneSession(stored))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result, nil
}

func (s *InMemoryStore) History(_ context.Context, limit int) ([]*models.VerificationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*models.VerificationSession, 0, len(s.history))
	for _, stored := range s.history {
		result = append(result, cloneSession(stored))
	}
	sort.Slice(result, func(i, j int) bool {
		ti, tj := result[i].StartedAt, result[j].StartedAt
		if result[i].CompletedAt != nil {
			ti = *result[i].CompletedAt
		}
		if result[j].CompletedAt != nil {
			tj = *result[j].CompletedAt
		}
		return ti.After(tj)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// cloneSession deep-copies the fields callers could otherwise alias into the
// store. Sessions own their step and result slices exclusively.
func cloneSession(in *models.VerificationSession) *models.VerificationSession {
	out := *in
	out.Steps = append([]models.VerificationStep(nil), in.Steps...)
	out.WalletResults = append([]models.WalletVerificationResult(nil), in.WalletResults...)
	if in.Final != nil {
		final := *in.Final
		final.Sources = append([]string(nil), in.Final.Sources...)
		final.Permissions = append([]models.AccessPermission(nil), in.Final.Permissions...)
		final.Recommendations = append([]string(nil), in.Final.Recommendations...)
		final.Flags = append([]models.SecurityFlag(nil), in.Final.Flags...)
		out.Final = &final
	}
	if in.CompletedAt != nil {
		completed := *in.CompletedAt
		out.CompletedAt = &completed
	}
	return &out
}
