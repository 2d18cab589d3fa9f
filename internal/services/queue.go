package services

import (
	"context"
	"sync"

	"github.com/tbourn/instagram-relay-bot/internal/domain"
	"github.com/tbourn/instagram-relay-bot/internal/observability"
)

// Queue is a FIFO of download requests with a single consumer.
//
// It tracks outstanding work the way a join-able task queue does: Put
// increments the outstanding count, and the consumer must call Done exactly
// once per item it received from Get, whatever the outcome. Join blocks until
// the count drops to zero.
//
// A capacity <= 0 makes the queue unbounded; otherwise Put fails with
// ErrQueueFull once capacity items are waiting.
type Queue struct {
	mu          sync.Mutex
	items       []*domain.Request
	capacity    int
	outstanding int
	notify      chan struct{} // buffered(1): "items may be available"
	idle        chan struct{} // closed while outstanding == 0
}

// NewQueue returns an empty queue.
func NewQueue(capacity int) *Queue {
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		idle:     idle,
	}
}

// Put appends req to the tail of the queue. It never blocks.
func (q *Queue) Put(req *domain.Request) error {
	q.mu.Lock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, req)
	if q.outstanding == 0 {
		q.idle = make(chan struct{})
	}
	q.outstanding++
	depth := len(q.items)
	q.mu.Unlock()

	observability.QueueDepth.Set(float64(depth))
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Get removes and returns the head of the queue, blocking until an item is
// available or ctx is done.
func (q *Queue) Get(ctx context.Context) (*domain.Request, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			req := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			depth := len(q.items)
			q.mu.Unlock()
			observability.QueueDepth.Set(float64(depth))
			return req, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Done acknowledges that one item obtained from Get reached a terminal
// state. Calling Done more often than Get is a programming error and panics.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding <= 0 {
		panic("services: Queue.Done called more times than items were queued")
	}
	q.outstanding--
	if q.outstanding == 0 {
		close(q.idle)
	}
}

// Len returns the number of items waiting (not yet handed to the consumer).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Outstanding returns queued plus in-flight items not yet acknowledged.
func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}

// Join blocks until every queued item has been acknowledged or ctx is done.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
