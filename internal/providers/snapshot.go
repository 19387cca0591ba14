package providers

import (
	"context"

	"logpipe/internal/models"
)

// SnapshotOptions configures a SnapshotProvider.
type SnapshotOptions struct {
	Filter    models.CategoryFilter
	Retention RetentionOptions

	// ClearOnGet empties the store each time it is read.
	ClearOnGet bool
}

// SnapshotProvider collects messages meant for a person to read, such as a
// warnings panel. With ClearOnGet each message is shown once.
type SnapshotProvider struct {
	base
	Retention
	clearOnGet bool
}

// NewSnapshotProvider creates a snapshot provider
func NewSnapshotProvider(options SnapshotOptions) (*SnapshotProvider, error) {
	p := &SnapshotProvider{
		base:       newBase(TypeSnapshot, options.Filter),
		clearOnGet: options.ClearOnGet,
	}
	if err := p.setRetention(options.Retention); err != nil {
		return nil, err
	}
	return p, nil
}

// Accept retains msg.
func (p *SnapshotProvider) Accept(ctx context.Context, msg *models.LogMessage) error {
	p.Add(msg)
	return nil
}

// Get returns the retained messages, emptying the store when ClearOnGet is set.
func (p *SnapshotProvider) Get() []*models.LogMessage {
	if p.clearOnGet {
		return p.Drain()
	}
	return p.Snapshot()
}

// ClearOnGet reports whether reads consume the retained messages.
func (p *SnapshotProvider) ClearOnGet() bool {
	return p.clearOnGet
}

// View returns up to limit messages. Without ClearOnGet these are the most
// recent ones. With ClearOnGet the oldest limit messages are consumed and the
// rest stay for the next read.
func (p *SnapshotProvider) View(ctx context.Context, limit int) ([]*models.LogMessage, error) {
	if p.clearOnGet {
		return p.DrainN(limit), nil
	}
	return tail(p.Snapshot(), limit), nil
}
