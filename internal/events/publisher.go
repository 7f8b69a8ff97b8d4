package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Publisher emits events to a sink, synchronously by default or through a
// bounded buffer when constructed with WithAsyncBuffer. In async mode a full
// buffer drops the event rather than blocking the caller; Close drains
// whatever is buffered before returning.
type Publisher struct {
	sink      Sink
	buffer    chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with the given buffer
// capacity.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.buffer = make(chan Event, size)
	}
}

// NewPublisher constructs a publisher over the given sink.
func NewPublisher(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sink: sink,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit publishes one event, stamping ID and timestamp when absent. In async
// mode a full buffer returns an error and the event is lost.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if p.buffer == nil {
		return p.sink.Write(ctx, event)
	}

	select {
	case p.buffer <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("event buffer full, dropping %s", event.Type)
	}
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for {
		select {
		case event := <-p.buffer:
			_ = p.sink.Write(context.Background(), event)
		case <-p.done:
			for {
				select {
				case event := <-p.buffer:
					_ = p.sink.Write(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Close drains buffered events and closes the sink.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
	return p.sink.Close()
}
