// Package events provides the bus used to broadcast encode progress and
// state changes. Delivery is decoupled from the encode path: events are
// pushed into a buffered channel drained by a dedicated notifier goroutine,
// so a slow subscriber can never stall an ffmpeg progress loop.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/heliosmedia/helios/internal/logger"
)

// Handler receives events. Handlers run on the notifier goroutine and should
// return quickly.
type Handler func(Event)

// Publisher is the narrow interface consumed by encode components.
type Publisher interface {
	// Publish blocks until the event is accepted by the notifier or the
	// context is done.
	Publish(ctx context.Context, event Event) error
	// PublishAsync never blocks; it returns an error when the buffer is
	// full so callers can observe dropped events instead of losing them
	// silently.
	PublishAsync(event Event) error
}

// Bus fans incoming events out to subscribed handlers.
type Bus struct {
	logger logger.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	running  bool

	ch     chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBus creates a bus with the given buffer size.
func NewBus(log logger.Logger, bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Bus{
		logger:   log.Named("events"),
		handlers: make(map[string]Handler),
		ch:       make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the notifier goroutine.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("event bus already running")
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.wg.Add(1)
	go b.process()
	return nil
}

// Stop drains the buffer and stops the notifier.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()
	b.wg.Wait()
}

// Subscribe registers a handler for all events and returns an id for
// Unsubscribe.
func (b *Bus) Subscribe(h Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.New().String()
	b.handlers[id] = h
	return id
}

// Unsubscribe removes a handler.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Publish blocks until the event is queued or ctx is done.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	select {
	case b.ch <- event:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event %s not accepted: %w", event.Type, ctx.Err())
	case <-b.stopCh:
		return fmt.Errorf("event bus stopped")
	}
}

// PublishAsync queues the event without blocking. A full buffer is reported
// as an error rather than dropped silently.
func (b *Bus) PublishAsync(event Event) error {
	select {
	case b.ch <- event:
		return nil
	default:
		b.logger.Warn("event buffer full, dropping event", "type", event.Type, "job_id", event.JobID)
		return fmt.Errorf("event buffer full, dropped %s", event.Type)
	}
}

func (b *Bus) process() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.ch:
			b.dispatch(event)
		case <-b.stopCh:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case event := <-b.ch:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
