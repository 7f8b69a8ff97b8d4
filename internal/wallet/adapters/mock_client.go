package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"verigate/internal/verification/models"
	"verigate/pkg/platform/sentinel"
)

// MockRecordClient serves deterministic records with a configurable latency to
// mimic real-world credential system calls. It backs local development and
// tests; production deployments swap in protocol-specific clients.
type MockRecordClient struct {
	Latency time.Duration
	Fail    error

	mu      sync.RWMutex
	records map[string]map[models.ClaimType]string
}

// NewMockRecordClient creates an empty mock client.
func NewMockRecordClient(latency time.Duration) *MockRecordClient {
	return &MockRecordClient{
		Latency: latency,
		records: make(map[string]map[models.ClaimType]string),
	}
}

// Enroll registers the claim values the mock system holds for a credential
// reference.
func (c *MockRecordClient) Enroll(credentialRef string, values map[models.ClaimType]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[credentialRef] = values
}

func (c *MockRecordClient) Records(ctx context.Context, credentialRef string) (map[models.ClaimType]string, error) {
	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.Fail != nil {
		return nil, c.Fail
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	values, ok := c.records[credentialRef]
	if !ok {
		return nil, fmt.Errorf("no records for reference: %w", sentinel.ErrNotFound)
	}
	out := make(map[models.ClaimType]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

func (c *MockRecordClient) Ping(ctx context.Context) error {
	if c.Fail != nil {
		return c.Fail
	}
	return ctx.Err()
}
