package providers

import (
	"context"

	"logpipe/internal/models"
)

// MemoryOptions configures a MemoryProvider.
type MemoryOptions struct {
	Filter    models.CategoryFilter
	Retention RetentionOptions
}

// DefaultMemoryOptions keeps the last 1000 messages, evicting down to 80%.
func DefaultMemoryOptions() MemoryOptions {
	return MemoryOptions{
		Filter:    models.AllowAll(),
		Retention: RetentionOptions{Capacity: 1000, FillFactor: 80},
	}
}

// MemoryProvider keeps a bounded ring of recent messages for diagnostics.
type MemoryProvider struct {
	base
	Retention
}

// NewMemoryProvider creates a memory provider
func NewMemoryProvider(options MemoryOptions) (*MemoryProvider, error) {
	p := &MemoryProvider{base: newBase(TypeMemory, options.Filter)}
	if err := p.setRetention(options.Retention); err != nil {
		return nil, err
	}
	return p, nil
}

// Accept retains msg.
func (p *MemoryProvider) Accept(ctx context.Context, msg *models.LogMessage) error {
	p.Add(msg)
	return nil
}

// View returns the most recent retained messages without removing them.
func (p *MemoryProvider) View(ctx context.Context, limit int) ([]*models.LogMessage, error) {
	return tail(p.Snapshot(), limit), nil
}
