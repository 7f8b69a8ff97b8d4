package code

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"verigate/internal/verification/models"
	"verigate/pkg/platform/sentinel"
)

var consumeDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "verigate_code_consume_duration_ms",
	Help:    "Latency of atomic code consumption in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const codeKeyPrefix = "verigate:code:"

// retention past expiry so validation of a stale code can still report
// "expired" instead of "not found".
const expiredRetention = 24 * time.Hour

// RedisStore is a Redis-backed code store for distributed deployments where
// multiple instances must share usage counters. Consume runs under WATCH so
// two concurrent presentations of a single-use code cannot both succeed.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed code store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func codeKey(id uuid.UUID) string { return codeKeyPrefix + id.String() }

func (s *RedisStore) ttlFor(code *models.VerificationCode, now time.Time) time.Duration {
	ttl := code.ExpiresAt.Add(expiredRetention).Sub(now)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return ttl
}

func (s *RedisStore) Create(ctx context.Context, code *models.VerificationCode) error {
	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("encode code: %w", err)
	}
	ok, err := s.client.SetNX(ctx, codeKey(code.ID), data, s.ttlFor(code, code.CreatedAt)).Result()
	if err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	if !ok {
		return fmt.Errorf("code %s already exists: %w", code.ID, sentinel.ErrConflict)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, id uuid.UUID) (*models.VerificationCode, error) {
	data, err := s.client.Get(ctx, codeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("code %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load code: %w", err)
	}
	var code models.VerificationCode
	if err := json.Unmarshal(data, &code); err != nil {
		return nil, fmt.Errorf("decode code: %w", err)
	}
	return &code, nil
}

// Consume validates and spends one usage inside an optimistic WATCH
// transaction, retrying on contention.
func (s *RedisStore) Consume(ctx context.Context, id uuid.UUID, now time.Time) (*models.VerificationCode, error) {
	start := time.Now()
	defer func() {
		consumeDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	key := codeKey(id)
	var result *models.VerificationCode
	var rejection error

	txn := func(tx *redis.Tx) error {
		result, rejection = nil, nil

		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("code %s: %w", id, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load code: %w", err)
		}
		var code models.VerificationCode
		if err := json.Unmarshal(data, &code); err != nil {
			return fmt.Errorf("decode code: %w", err)
		}

		switch {
		case code.Status == models.CodeRevoked:
			rejection = fmt.Errorf("code %s is revoked: %w", id, sentinel.ErrInvalidState)
		case code.Status == models.CodeUsed:
			rejection = fmt.Errorf("code %s: %w", id, sentinel.ErrUsageExhausted)
		case code.IsExpired(now):
			_ = code.Transition(models.CodeExpired)
			rejection = fmt.Errorf("code %s: %w", id, sentinel.ErrExpired)
		case code.UsageExhausted():
			_ = code.Transition(models.CodeUsed)
			rejection = fmt.Errorf("code %s: %w", id, sentinel.ErrUsageExhausted)
		default:
			if err := code.ConsumeUsage(); err != nil {
				rejection = fmt.Errorf("%s: %w", err, sentinel.ErrInvalidState)
			}
		}

		updated, err := json.Marshal(&code)
		if err != nil {
			return fmt.Errorf("encode code: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, s.ttlFor(&code, now))
			return nil
		})
		if err != nil {
			return err
		}
		result = &code
		return nil
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // contention, retry
		}
		if err != nil {
			return nil, err
		}
		return result, rejection
	}
	return nil, fmt.Errorf("code %s: consume contention: %w", id, sentinel.ErrUnavailable)
}

func (s *RedisStore) MarkStatus(ctx context.Context, id uuid.UUID, status models.CodeStatus) error {
	key := codeKey(id)
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("code %s: %w", id, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load code: %w", err)
		}
		var code models.VerificationCode
		if err := json.Unmarshal(data, &code); err != nil {
			return fmt.Errorf("decode code: %w", err)
		}
		if err := code.Transition(status); err != nil {
			return fmt.Errorf("%s: %w", err, sentinel.ErrInvalidState)
		}
		updated, err := json.Marshal(&code)
		if err != nil {
			return fmt.Errorf("encode code: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("code %s: mark contention: %w", id, sentinel.ErrUnavailable)
}

// DeleteExpired is a no-op for Redis: keys carry TTLs and age out on their
// own. It exists to satisfy the Store interface for callers that sweep.
func (s *RedisStore) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}
