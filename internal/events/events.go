// Package events records what happened across the verification lifecycle and
// fans it out to configured sinks. Events are observational: sinks may drop
// them under pressure, and no domain decision ever depends on one.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names an event class.
type Type string

const (
	EventCodeIssued       Type = "code.issued"
	EventCodeRevoked      Type = "code.revoked"
	EventCodeValidated    Type = "code.validated"
	EventSessionStarted   Type = "session.started"
	EventSessionCompleted Type = "session.completed"
	EventSessionCancelled Type = "session.cancelled"
	EventSecurityFlag     Type = "security.flag"
)

// Event is one lifecycle occurrence. Detail carries type-specific fields and
// must be JSON-serializable.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Type      Type           `json:"type"`
	OwnerID   string         `json:"owner_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	CodeID    string         `json:"code_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, event Event) error
	Close() error
}

// MemorySink retains events in memory for tests and the dashboard feed.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemorySink constructs an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Events returns a snapshot of everything written so far, in write order.
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}

// ByType filters the retained events to one type.
func (s *MemorySink) ByType(t Type) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Event
	for _, e := range s.events {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}
