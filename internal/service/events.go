package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/veranemoloko/segment-uploader/internal/domain"
)

// eventBus delivers events to subscribers from a single goroutine, in the
// order they were published. Publish never blocks, so the scheduler can
// publish while holding its lock and listeners may call back into it.
type eventBus struct {
	mu          sync.Mutex
	queue       []domain.Event
	subscribers map[uint64]func(domain.Event)
	nextID      uint64
	closed      bool

	notify chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

func newEventBus(logger *slog.Logger) *eventBus {
	b := &eventBus{
		subscribers: make(map[uint64]func(domain.Event)),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
		logger:      logger,
	}
	go b.dispatch()
	return b
}

func (b *eventBus) subscribe(fn func(domain.Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

func (b *eventBus) publish(event domain.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Debug("event dropped after shutdown", "type", event.Type, "segment_id", event.SegmentID)
		return
	}
	b.queue = append(b.queue, event)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *eventBus) dispatch() {
	defer close(b.done)

	for range b.notify {
		for {
			b.mu.Lock()
			if len(b.queue) == 0 {
				closed := b.closed
				b.mu.Unlock()
				if closed {
					return
				}
				break
			}
			event := b.queue[0]
			b.queue[0] = domain.Event{}
			b.queue = b.queue[1:]
			subs := make([]func(domain.Event), 0, len(b.subscribers))
			for _, fn := range b.subscribers {
				subs = append(subs, fn)
			}
			b.mu.Unlock()

			for _, fn := range subs {
				fn(event)
			}
		}
	}
}

// close stops accepting events and waits until queued ones are delivered.
func (b *eventBus) close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		b.logger.Warn("event dispatcher shutdown timed out")
		return ctx.Err()
	}
}
