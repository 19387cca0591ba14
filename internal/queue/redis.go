package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"logpipe/internal/models"
)

// RedisDeadLetterQueue implements DeadLetterQueue using a capped Redis list.
// New failures are pushed on the right and the list is trimmed from the left,
// so LRANGE returns the oldest first.
type RedisDeadLetterQueue struct {
	client   redis.Cmdable
	dlKey    string
	capacity int64
}

// NewRedisDeadLetterQueueWithClient builds a dead letter queue stored under
// "dlq:<queueName>" on an existing client. Close does not close the client.
func NewRedisDeadLetterQueueWithClient(client redis.Cmdable, queueName string, capacity int) *RedisDeadLetterQueue {
	if capacity <= 0 {
		capacity = DefaultConfig("").DeadLetterCapacity
	}
	return &RedisDeadLetterQueue{
		client:   client,
		dlKey:    fmt.Sprintf("dlq:%s", queueName),
		capacity: int64(capacity),
	}
}

// Add records a failed delivery
func (q *RedisDeadLetterQueue) Add(ctx context.Context, provider string, msg *models.LogMessage, err error) error {
	data, marshalErr := json.Marshal(newDeadLetterItem(provider, msg, err))
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal dead letter item: %w", marshalErr)
	}

	_, pipeErr := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, q.dlKey, data)
		pipe.LTrim(ctx, q.dlKey, -q.capacity, -1)
		return nil
	})
	if pipeErr != nil {
		return fmt.Errorf("failed to add to dead letter queue: %w", pipeErr)
	}

	return nil
}

// List retrieves items from the dead letter queue, oldest first
func (q *RedisDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	stop := int64(-1)
	if maxItems > 0 {
		stop = int64(maxItems) - 1
	}

	results, err := q.client.LRange(ctx, q.dlKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter items: %w", err)
	}

	items := make([]DeadLetterItem, 0, len(results))
	for _, data := range results {
		var dlItem DeadLetterItem
		if err := json.Unmarshal([]byte(data), &dlItem); err != nil {
			continue // Skip malformed items
		}
		items = append(items, dlItem)
	}

	return items, nil
}

// Remove removes an item from the dead letter queue
func (q *RedisDeadLetterQueue) Remove(ctx context.Context, id string) error {
	results, err := q.client.LRange(ctx, q.dlKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, data := range results {
		var dlItem DeadLetterItem
		if err := json.Unmarshal([]byte(data), &dlItem); err != nil || dlItem.ID != id {
			continue
		}
		if err := q.client.LRem(ctx, q.dlKey, 1, data).Err(); err != nil {
			return fmt.Errorf("failed to remove from dead letter queue: %w", err)
		}
		return nil
	}

	return ErrItemNotFound
}

// Length returns the number of recorded failures.
func (q *RedisDeadLetterQueue) Length(ctx context.Context) (int, error) {
	length, err := q.client.LLen(ctx, q.dlKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get dead letter queue length: %w", err)
	}
	return int(length), nil
}

// Close implements DeadLetterQueue. The client belongs to the caller.
func (q *RedisDeadLetterQueue) Close() error {
	return nil
}
