package providers

import (
	"math"
	"sync"

	"logpipe/internal/models"
)

// RetentionOptions bound how many messages a provider keeps in memory.
type RetentionOptions struct {
	// Capacity is the number of messages that triggers eviction. 0 disables
	// eviction.
	Capacity int `json:"capacity" yaml:"capacity"`

	// FillFactor is the percentage of Capacity kept after an eviction pass,
	// in [0, 100]. 0 disables eviction.
	FillFactor int `json:"fill_factor" yaml:"fill_factor"`
}

// Validate checks the option ranges.
func (o RetentionOptions) Validate() error {
	if o.Capacity < 0 {
		return invalidOptions("capacity must not be negative, got %d", o.Capacity)
	}
	if o.FillFactor < 0 || o.FillFactor > 100 {
		return invalidOptions("fill factor must be within [0, 100], got %d", o.FillFactor)
	}
	return nil
}

// EvictionCount returns how many of the oldest messages one eviction pass
// removes: Capacity*(1-FillFactor/100) rounded, but at least one.
func (o RetentionOptions) EvictionCount() int {
	n := int(math.Round(float64(o.Capacity) * (1 - float64(o.FillFactor)/100)))
	if n < 1 {
		return 1
	}
	return n
}

func (o RetentionOptions) evicts() bool {
	return o.Capacity > 0 && o.FillFactor > 0
}

// Retention is an ordered, capacity-bounded message store. Providers embed it
// by value; the zero value retains everything.
type Retention struct {
	mu      sync.Mutex
	options RetentionOptions
	items   []*models.LogMessage
	evicted int64
}

func (r *Retention) setRetention(options RetentionOptions) error {
	if err := options.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.options = options
	r.mu.Unlock()
	return nil
}

// Add appends msg, first evicting the oldest messages when the store is full.
func (r *Retention) Add(msg *models.LogMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.options.evicts() && len(r.items) >= r.options.Capacity {
		n := r.options.EvictionCount()
		if n > len(r.items) {
			n = len(r.items)
		}
		kept := copy(r.items, r.items[n:])
		clear(r.items[kept:])
		r.items = r.items[:kept]
		r.evicted += int64(n)
	}
	r.items = append(r.items, msg)
}

// Snapshot returns a copy of the retained messages, oldest first.
func (r *Retention) Snapshot() []*models.LogMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.LogMessage, len(r.items))
	copy(out, r.items)
	return out
}

// Drain returns the retained messages and empties the store in one step.
func (r *Retention) Drain() []*models.LogMessage {
	return r.DrainN(0)
}

// DrainN removes and returns the oldest n retained messages, keeping the
// rest. n <= 0 drains everything.
func (r *Retention) DrainN(n int) []*models.LogMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n >= len(r.items) {
		out := r.items
		r.items = nil
		if out == nil {
			out = []*models.LogMessage{}
		}
		return out
	}

	out := make([]*models.LogMessage, n)
	copy(out, r.items)
	kept := copy(r.items, r.items[n:])
	clear(r.items[kept:])
	r.items = r.items[:kept]
	return out
}

// Len returns the number of retained messages.
func (r *Retention) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Evicted returns how many messages eviction has discarded so far.
func (r *Retention) Evicted() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}
