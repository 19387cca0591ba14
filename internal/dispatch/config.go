package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// FanOut selects how one message is handed to several providers.
type FanOut string

const (
	// Sequential calls providers one after another in registration order.
	Sequential FanOut = "sequential"

	// Concurrent calls providers in parallel, bounded by MaxConcurrency.
	// The worker still waits for every provider before the next message.
	Concurrent FanOut = "concurrent"
)

// ParseFanOut parses "sequential" or "concurrent".
func ParseFanOut(s string) (FanOut, error) {
	switch FanOut(strings.ToLower(strings.TrimSpace(s))) {
	case "", Sequential:
		return Sequential, nil
	case Concurrent:
		return Concurrent, nil
	default:
		return "", fmt.Errorf("unknown fan-out mode %q", s)
	}
}

// Config holds dispatcher configuration
type Config struct {
	// QueueCapacity bounds the transit queue. A full queue drops new messages.
	QueueCapacity int

	// BatchSize is the maximum number of messages dequeued at once
	BatchSize int

	// BatchTimeout is how long the worker waits for a message before
	// polling again
	BatchTimeout time.Duration

	FanOut FanOut

	// MaxConcurrency bounds parallel deliveries in Concurrent mode
	MaxConcurrency int

	// DeliveryTimeout bounds one Accept call
	DeliveryTimeout time.Duration

	// ShutdownGrace bounds Stop, draining and provider flushes included
	ShutdownGrace time.Duration
}

// DefaultConfig returns default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		QueueCapacity:   10000,
		BatchSize:       100,
		BatchTimeout:    250 * time.Millisecond,
		FanOut:          Sequential,
		MaxConcurrency:  8,
		DeliveryTimeout: 5 * time.Second,
		ShutdownGrace:   10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = def.QueueCapacity
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = def.BatchTimeout
	}
	if c.FanOut == "" {
		c.FanOut = def.FanOut
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = def.MaxConcurrency
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = def.DeliveryTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = def.ShutdownGrace
	}
	return c
}
