package infrastructure

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"paymesh/internal/domain"
)

var (
	ErrEventQueueFull   = errors.New("event queue full")
	ErrEventQueueClosed = errors.New("event queue closed")
)

// EventQueue buffers payment events in a bounded channel and lets a fixed
// pool of workers hand them to the downstream publisher. Publish never
// blocks; a full queue drops the event. Each delivery is bounded by timeout.
type EventQueue struct {
	next     domain.EventPublisher
	queue    chan domain.PaymentEvent
	capacity int
	workers  int
	timeout  time.Duration
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

func NewEventQueue(next domain.EventPublisher, workers, capacity int, timeout time.Duration) *EventQueue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &EventQueue{
		next:     next,
		queue:    make(chan domain.PaymentEvent, capacity),
		capacity: capacity,
		workers:  workers,
		timeout:  timeout,
	}
}

func (q *EventQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.deliver()
	}
}

func (q *EventQueue) deliver() {
	defer q.wg.Done()
	for event := range q.queue {
		if err := q.publish(event); err != nil {
			slog.Warn("Payment event delivery failed", "paymentId", event.PaymentID, "type", event.Type, "err", err)
		}
	}
}

func (q *EventQueue) publish(event domain.PaymentEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	return q.next.Publish(ctx, event)
}

func (q *EventQueue) Publish(_ context.Context, event domain.PaymentEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrEventQueueClosed
	}
	select {
	case q.queue <- event:
		return nil
	default:
		return ErrEventQueueFull
	}
}

func (q *EventQueue) Pending() int {
	return len(q.queue)
}

func (q *EventQueue) IsFull() bool {
	return len(q.queue) >= q.capacity
}

// Close stops accepting events and waits for queued ones to be delivered,
// or for ctx to end.
func (q *EventQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
