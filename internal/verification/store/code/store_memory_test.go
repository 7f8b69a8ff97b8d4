package code

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verigate/internal/verification/models"
	"verigate/pkg/platform/sentinel"
)

func newTestCode(usageLimit int, expiresAt time.Time) *models.VerificationCode {
	now := expiresAt.Add(-30 * time.Minute)
	return &models.VerificationCode{
		ID:         uuid.New(),
		OwnerID:    "owner-1",
		Purpose:    "facility_entry",
		Payload:    models.CodePayload{OwnerID: "owner-1", IssuedAt: now},
		ExpiresAt:  expiresAt,
		UsageLimit: usageLimit,
		Status:     models.CodeActive,
		CreatedAt:  now,
	}
}

func TestInMemoryStore_CreateAndFind(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	code := newTestCode(1, time.Now().Add(time.Hour))

	require.NoError(t, store.Create(ctx, code))

	found, err := store.Find(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, code.ID, found.ID)
	assert.Equal(t, models.CodeActive, found.Status)

	assert.ErrorIs(t, store.Create(ctx, code), sentinel.ErrConflict)

	_, err = store.Find(ctx, uuid.New())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_FindReturnsCopy(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	code := newTestCode(1, time.Now().Add(time.Hour))
	require.NoError(t, store.Create(ctx, code))

	found, err := store.Find(ctx, code.ID)
	require.NoError(t, err)
	found.UsageCount = 99

	again, err := store.Find(ctx, code.ID)
	require.NoError(t, err)
	assert.Zero(t, again.UsageCount, "mutating a returned code must not touch the stored one")
}

func TestInMemoryStore_ConsumeSpendsUsage(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	code := newTestCode(2, time.Now().Add(time.Hour))
	require.NoError(t, store.Create(ctx, code))

	first, err := store.Consume(ctx, code.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, first.UsageCount)
	assert.Equal(t, models.CodeActive, first.Status)

	second, err := store.Consume(ctx, code.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, second.UsageCount)
	assert.Equal(t, models.CodeUsed, second.Status, "spending the last usage marks the code used")

	_, err = store.Consume(ctx, code.ID, time.Now())
	assert.ErrorIs(t, err, sentinel.ErrUsageExhausted)
}

func TestInMemoryStore_ConsumeExpiredMarksExpired(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	code := newTestCode(1, time.Now().Add(-time.Minute))
	require.NoError(t, store.Create(ctx, code))

	returned, err := store.Consume(ctx, code.ID, time.Now())
	assert.ErrorIs(t, err, sentinel.ErrExpired)
	assert.Equal(t, models.CodeExpired, returned.Status)

	found, err := store.Find(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CodeExpired, found.Status)
}

// Two concurrent presentations of a single-use code: exactly one may succeed.
func TestInMemoryStore_ConsumeIsAtomic(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	code := newTestCode(1, time.Now().Add(time.Hour))
	require.NoError(t, store.Create(ctx, code))

	const attempts = 16
	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, code.ID, time.Now()); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	assert.Equal(t, 1, count, "usage counter must never exceed the limit")

	found, err := store.Find(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, found.UsageCount)
}

func TestInMemoryStore_MarkStatusIsMonotonic(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	code := newTestCode(1, time.Now().Add(time.Hour))
	require.NoError(t, store.Create(ctx, code))

	require.NoError(t, store.MarkStatus(ctx, code.ID, models.CodeRevoked))

	err := store.MarkStatus(ctx, code.ID, models.CodeActive)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState, "no reverse transitions")

	err = store.MarkStatus(ctx, code.ID, models.CodeExpired)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState, "terminal statuses never change")
}

func TestInMemoryStore_DeleteExpired(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now()

	fresh := newTestCode(1, now.Add(time.Hour))
	stale := newTestCode(1, now.Add(-time.Hour))
	require.NoError(t, store.Create(ctx, fresh))
	require.NoError(t, store.Create(ctx, stale))

	deleted, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.Find(ctx, stale.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = store.Find(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestInMemoryStore_ConsumeUnknownCode(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Consume(context.Background(), uuid.New(), time.Now())
	assert.True(t, errors.Is(err, sentinel.ErrNotFound))
}
