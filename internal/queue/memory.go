package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"logpipe/internal/models"
)

// MemoryQueue implements Queue using a buffered channel. The channel itself is
// never closed, so a producer racing with Close cannot panic; closing only
// flips a flag and wakes blocked readers.
type MemoryQueue struct {
	items   chan *models.LogMessage
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	config  *Config
	dropped atomic.Int64
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(config *Config) *MemoryQueue {
	config = config.withDefaults()

	return &MemoryQueue{
		items:  make(chan *models.LogMessage, config.Capacity),
		done:   make(chan struct{}),
		config: config,
	}
}

// TryEnqueue adds a message to the queue without blocking.
func (q *MemoryQueue) TryEnqueue(msg *models.LogMessage) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		return ErrQueueClosed
	}

	select {
	case q.items <- msg:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dequeue retrieves messages from the queue
func (q *MemoryQueue) Dequeue(ctx context.Context, maxItems int) ([]*models.LogMessage, error) {
	return q.dequeue(ctx, maxItems, nil)
}

// DequeueWithTimeout retrieves messages with a timeout
func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]*models.LogMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return q.dequeue(ctx, maxItems, timer.C)
}

func (q *MemoryQueue) dequeue(ctx context.Context, maxItems int, deadline <-chan time.Time) ([]*models.LogMessage, error) {
	if maxItems <= 0 {
		maxItems = 1
	}

	// Block until we get at least one message
	var first *models.LogMessage
	select {
	case first = <-q.items:
	case <-deadline:
		return []*models.LogMessage{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		// Closed: hand out what is left before reporting closure.
		if rest := q.TryDequeue(maxItems); len(rest) > 0 {
			return rest, nil
		}
		return nil, ErrQueueClosed
	}

	items := make([]*models.LogMessage, 0, maxItems)
	items = append(items, first)
	return append(items, q.TryDequeue(maxItems-1)...), nil
}

// TryDequeue returns up to maxItems queued messages without blocking.
func (q *MemoryQueue) TryDequeue(maxItems int) []*models.LogMessage {
	var items []*models.LogMessage
	for len(items) < maxItems {
		select {
		case msg := <-q.items:
			items = append(items, msg)
		default:
			return items
		}
	}
	return items
}

// Length returns the current queue length
func (q *MemoryQueue) Length() int {
	return len(q.items)
}

// Capacity returns the maximum number of queued messages.
func (q *MemoryQueue) Capacity() int {
	return cap(q.items)
}

// Dropped returns how many messages were rejected because the queue was full or closed.
func (q *MemoryQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops accepting new messages
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.done)
	return nil
}

// MemoryDeadLetterQueue implements DeadLetterQueue using a bounded slice
type MemoryDeadLetterQueue struct {
	items    []DeadLetterItem
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewMemoryDeadLetterQueue creates a new in-memory dead letter queue holding
// at most capacity failures.
func NewMemoryDeadLetterQueue(capacity int) *MemoryDeadLetterQueue {
	if capacity <= 0 {
		capacity = DefaultConfig("").DeadLetterCapacity
	}
	return &MemoryDeadLetterQueue{
		items:    make([]DeadLetterItem, 0),
		capacity: capacity,
	}
}

// Add records a failed delivery, discarding the oldest record when full.
func (q *MemoryDeadLetterQueue) Add(ctx context.Context, provider string, msg *models.LogMessage, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if len(q.items) >= q.capacity {
		n := copy(q.items, q.items[1:])
		q.items[n] = DeadLetterItem{}
		q.items = q.items[:n]
	}

	q.items = append(q.items, newDeadLetterItem(provider, msg, err))
	return nil
}

// List retrieves items from the dead letter queue
func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	if maxItems <= 0 || maxItems > len(q.items) {
		maxItems = len(q.items)
	}

	result := make([]DeadLetterItem, maxItems)
	copy(result, q.items[:maxItems])
	return result, nil
}

// Remove removes an item from the dead letter queue
func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}

	return ErrItemNotFound
}

// Length returns the number of recorded failures.
func (q *MemoryDeadLetterQueue) Length(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items), nil
}

// Close shuts down the dead letter queue
func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	return nil
}

func newDeadLetterItem(provider string, msg *models.LogMessage, err error) DeadLetterItem {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	return DeadLetterItem{
		ID:        uuid.NewString(),
		Provider:  provider,
		Message:   msg,
		Error:     errText,
		Timestamp: time.Now().UTC(),
	}
}
