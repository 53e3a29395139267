package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/craftzone/craftzone-api/internal/pkg/metrics"
)

const handlerTimeout = 10 * time.Second

// EventHandler consumes events on the dispatcher goroutine.
type EventHandler interface {
	Handle(ctx context.Context, e Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, e Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Dispatcher fans events out to handlers from a bounded queue. Publish never
// blocks: when the queue is full the event is dropped and counted.
type Dispatcher struct {
	queue    chan Event
	handlers []EventHandler

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(size int, handlers ...EventHandler) *Dispatcher {
	if size <= 0 {
		size = 256
	}
	d := &Dispatcher{
		queue:    make(chan Event, size),
		handlers: handlers,
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

func (d *Dispatcher) Publish(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- e:
	default:
		metrics.NotificationsDroppedTotal.Inc()
		log.Warn().Str("kind", string(e.Kind)).Str("event_id", e.ID.String()).Msg("Notification queue full, event dropped")
	}
}

// Close stops accepting events and waits for queued ones to be handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for e := range d.queue {
		for _, h := range d.handlers {
			d.handle(h, e)
		}
	}
}

func (d *Dispatcher) handle(h EventHandler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("kind", string(e.Kind)).Msg("Notification handler panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := h.Handle(ctx, e); err != nil {
		log.Error().Err(err).Str("kind", string(e.Kind)).Str("event_id", e.ID.String()).Msg("Notification handler failed")
	}
}
