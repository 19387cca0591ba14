package providers

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedRowCount is returned by the database provider when an insert
	// did not affect exactly one row.
	ErrUnexpectedRowCount = errors.New("unexpected number of affected rows")

	// ErrInvalidOptions is wrapped by constructors rejecting their options.
	ErrInvalidOptions = errors.New("invalid provider options")

	// ErrProviderClosed is returned by Accept after Close.
	ErrProviderClosed = errors.New("provider is closed")
)

// ValidationError describes a column value the database provider refused to
// write.
type ValidationError struct {
	Column string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("column %q: %s", e.Column, e.Reason)
}

func invalidOptions(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOptions, fmt.Sprintf(format, args...))
}
