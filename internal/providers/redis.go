package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"logpipe/internal/models"
	"logpipe/internal/utils"
)

// RedisOptions configures a RedisProvider.
type RedisOptions struct {
	Filter models.CategoryFilter

	// ListKey is the Redis list holding the messages.
	ListKey string

	// Capacity bounds the list length. 0 keeps everything.
	Capacity int64
}

// RedisProvider mirrors messages into a capped Redis list so that other
// processes can tail them. The newest message is at the head of the list.
type RedisProvider struct {
	base
	client   redis.Cmdable
	listKey  string
	capacity int64
	logger   *utils.Logger
}

// NewRedisProvider creates a Redis provider on an existing client.
func NewRedisProvider(client redis.Cmdable, options RedisOptions) (*RedisProvider, error) {
	if client == nil {
		return nil, invalidOptions("redis client is required")
	}
	if options.ListKey == "" {
		return nil, invalidOptions("list key is required")
	}
	if options.Capacity < 0 {
		return nil, invalidOptions("capacity must not be negative, got %d", options.Capacity)
	}
	return &RedisProvider{
		base:     newBase(TypeRedis, options.Filter),
		client:   client,
		listKey:  options.ListKey,
		capacity: options.Capacity,
		logger:   utils.NewLogger("redis-provider"),
	}, nil
}

// Accept pushes msg and trims the list to capacity in one transaction.
func (p *RedisProvider) Accept(ctx context.Context, msg *models.LogMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal log message: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, p.listKey, data)
		if p.capacity > 0 {
			pipe.LTrim(ctx, p.listKey, 0, p.capacity-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push log message to redis: %w", err)
	}
	return nil
}

// View reads the newest limit messages and returns them oldest first.
func (p *RedisProvider) View(ctx context.Context, limit int) ([]*models.LogMessage, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	results, err := p.client.LRange(ctx, p.listKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read log messages from redis: %w", err)
	}

	msgs := make([]*models.LogMessage, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		var msg models.LogMessage
		if err := json.Unmarshal([]byte(results[i]), &msg); err != nil {
			p.logger.Warn("Skipping malformed entry", "key", p.listKey, "error", err)
			continue
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}

// Len returns the current list length.
func (p *RedisProvider) Len(ctx context.Context) (int64, error) {
	return p.client.LLen(ctx, p.listKey).Result()
}
