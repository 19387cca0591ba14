// Package queue holds the two queues of the pipeline:
//
// 1. Transit queue (MemoryQueue, channel-based):
//    - Moves log messages from producers to the dispatcher worker
//    - Bounded; producers never block, a full queue drops the newest message
//    - Strict FIFO, one global order across producers
//
// 2. Dead-letter queue (memory or Redis):
//    - Records deliveries a provider rejected, with the error
//    - Bounded; the oldest failures are discarded first
//    - Readable from the admin API
//
// Architecture:
//
//	┌────────────┐  TryEnqueue   ┌──────────────┐  Dequeue  ┌────────────┐
//	│ Producers  │ ────────────▶ │ MemoryQueue  │ ────────▶ │ Dispatcher │
//	└────────────┘  (non-block)  └──────────────┘  (FIFO)   └─────┬──────┘
//	                                                              │ fan-out
//	                                             ┌────────────────┼────────────────┐
//	                                             ▼                ▼                ▼
//	                                       ┌──────────┐     ┌──────────┐     ┌──────────┐
//	                                       │ provider │     │ provider │     │ provider │
//	                                       └──────────┘     └────┬─────┘     └──────────┘
//	                                                             │ error
//	                                                             ▼
//	                                                       ┌──────────┐
//	                                                       │   DLQ    │
//	                                                       └──────────┘
package queue

import (
	"context"
	"time"

	"logpipe/internal/models"
)

// Queue defines the transit queue between producers and the dispatcher.
type Queue interface {
	// TryEnqueue adds a message without blocking. It returns ErrQueueFull
	// or ErrQueueClosed when the message was not accepted.
	TryEnqueue(msg *models.LogMessage) error

	// Dequeue blocks until at least one message is available, the queue is
	// closed, or ctx is cancelled, then returns up to maxItems messages.
	Dequeue(ctx context.Context, maxItems int) ([]*models.LogMessage, error)

	// DequeueWithTimeout is Dequeue bounded by timeout; it returns an empty
	// slice when nothing arrived in time.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]*models.LogMessage, error)

	// TryDequeue returns up to maxItems messages that are already queued.
	TryDequeue(maxItems int) []*models.LogMessage

	// Length returns the number of queued messages.
	Length() int

	// Close stops accepting messages. Queued messages stay readable.
	Close() error
}

// DeadLetterQueue records failed deliveries.
type DeadLetterQueue interface {
	// Add records a failed delivery of msg to provider.
	Add(ctx context.Context, provider string, msg *models.LogMessage, err error) error

	// List returns up to maxItems failures, oldest first. maxItems <= 0 means all.
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove deletes one failure by ID.
	Remove(ctx context.Context, id string) error

	// Length returns the number of recorded failures.
	Length(ctx context.Context) (int, error)

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem represents a failed delivery.
type DeadLetterItem struct {
	ID        string             `json:"id"`
	Provider  string             `json:"provider"`
	Message   *models.LogMessage `json:"message"`
	Error     string             `json:"error"`
	Timestamp time.Time          `json:"timestamp"`
}

// Config holds queue configuration
type Config struct {
	// Capacity is the maximum number of messages held by the transit queue
	Capacity int

	// BatchSize is the maximum number of messages the dispatcher pulls at once
	BatchSize int

	// BatchTimeout is how long the dispatcher waits for a first message
	// before re-checking its stop signal
	BatchTimeout time.Duration

	// DeadLetterCapacity bounds the dead letter queue
	DeadLetterCapacity int

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		Capacity:           10000,
		BatchSize:          100,
		BatchTimeout:       250 * time.Millisecond,
		DeadLetterCapacity: 1000,
		QueueName:          queueName,
	}
}

// withDefaults fills zero values with the defaults.
func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig("logpipe")
	}
	out := *c
	def := DefaultConfig(c.QueueName)
	if out.Capacity <= 0 {
		out.Capacity = def.Capacity
	}
	if out.BatchSize <= 0 {
		out.BatchSize = def.BatchSize
	}
	if out.BatchTimeout <= 0 {
		out.BatchTimeout = def.BatchTimeout
	}
	if out.DeadLetterCapacity <= 0 {
		out.DeadLetterCapacity = def.DeadLetterCapacity
	}
	if out.QueueName == "" {
		out.QueueName = "logpipe"
	}
	return &out
}
