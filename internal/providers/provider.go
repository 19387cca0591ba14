package providers

import (
	"context"

	"logpipe/internal/models"
)

// Provider types known to the pipeline.
const (
	TypeMemory   = "memory"
	TypeSnapshot = "snapshot"
	TypeConsole  = "console"
	TypeDatabase = "database"
	TypeRedis    = "redis"
	TypeS3       = "s3"
	TypeFile     = "file"
)

// Types returns every provider type in catalog order.
func Types() []string {
	return []string{TypeMemory, TypeSnapshot, TypeConsole, TypeDatabase, TypeRedis, TypeS3, TypeFile}
}

// Provider is implemented by each log sink (memory ring, console, database, ...).
type Provider interface {
	// Type returns the provider type (memory, console, database, etc.)
	Type() string

	// Filter returns the categories this provider accepts. The dispatcher
	// evaluates it before calling Accept.
	Filter() models.CategoryFilter

	// Accept stores or emits one message. It is called from the dispatcher
	// worker only; an error is recorded as a failed delivery and never
	// reaches the code that produced the message.
	Accept(ctx context.Context, msg *models.LogMessage) error
}

// Flusher is implemented by providers that buffer output.
// The dispatcher calls Flush during shutdown.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Viewer is implemented by providers whose retained messages can be read back,
// for example by the admin API.
type Viewer interface {
	// View returns up to limit of the most recent messages, oldest first.
	// limit <= 0 means everything retained.
	View(ctx context.Context, limit int) ([]*models.LogMessage, error)
}

// base carries the fields every provider shares.
type base struct {
	kind   string
	filter models.CategoryFilter
}

func newBase(kind string, filter models.CategoryFilter) base {
	return base{kind: kind, filter: filter.OrDefault()}
}

// Type returns the provider type
func (b base) Type() string {
	return b.kind
}

// Filter returns the provider's category filter
func (b base) Filter() models.CategoryFilter {
	return b.filter
}

// tail returns the last limit elements of msgs.
func tail(msgs []*models.LogMessage, limit int) []*models.LogMessage {
	if limit <= 0 || limit >= len(msgs) {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
