package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paymesh/internal/domain"
)

type collectingPublisher struct {
	mu      sync.Mutex
	events  []domain.PaymentEvent
	release chan struct{}
}

func (p *collectingPublisher) Publish(_ context.Context, e domain.PaymentEvent) error {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *collectingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestEventQueueDeliversEverything(t *testing.T) {
	next := &collectingPublisher{}
	q := NewEventQueue(next, 4, 100, time.Second)
	q.Start()

	for i := 0; i < 50; i++ {
		require.NoError(t, q.Publish(context.Background(), domain.PaymentEvent{
			Type:      domain.EventPaymentCompleted,
			PaymentID: fmt.Sprintf("stripe_%d", i),
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))
	assert.Equal(t, 50, next.count())

	assert.ErrorIs(t, q.Publish(context.Background(), domain.PaymentEvent{}), ErrEventQueueClosed)
	assert.NoError(t, q.Close(ctx), "second close is a no-op")
}

func TestEventQueueDropsWhenFull(t *testing.T) {
	next := &collectingPublisher{release: make(chan struct{})}
	q := NewEventQueue(next, 1, 2, time.Second)

	require.NoError(t, q.Publish(context.Background(), domain.PaymentEvent{PaymentID: "a"}))
	require.NoError(t, q.Publish(context.Background(), domain.PaymentEvent{PaymentID: "b"}))
	assert.True(t, q.IsFull())
	assert.ErrorIs(t, q.Publish(context.Background(), domain.PaymentEvent{PaymentID: "c"}), ErrEventQueueFull)
	assert.Equal(t, 2, q.Pending())

	q.Start()
	close(next.release)
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, 2, next.count())
}

func TestEventQueueCloseHonoursContext(t *testing.T) {
	next := &collectingPublisher{release: make(chan struct{})}
	q := NewEventQueue(next, 1, 1, time.Second)
	q.Start()
	require.NoError(t, q.Publish(context.Background(), domain.PaymentEvent{PaymentID: "stuck"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)

	close(next.release)
}

// stalledPublisher blocks until its context ends, like a broker holding
// back a publish under flow control.
type stalledPublisher struct {
	mu   sync.Mutex
	errs []error
}

func (p *stalledPublisher) Publish(ctx context.Context, _ domain.PaymentEvent) error {
	<-ctx.Done()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, ctx.Err())
	return ctx.Err()
}

func TestEventQueueBoundsEachDelivery(t *testing.T) {
	next := &stalledPublisher{}
	q := NewEventQueue(next, 1, 4, 10*time.Millisecond)
	q.Start()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, q.Publish(context.Background(), domain.PaymentEvent{PaymentID: id}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx), "a stalled broker must not hold the worker")

	next.mu.Lock()
	defer next.mu.Unlock()
	require.Len(t, next.errs, 2)
	for _, err := range next.errs {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}
