// Package host runs a set of background units. A unit that fails to start or
// stop is logged and skipped; its siblings still run.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"logpipe/internal/utils"
)

// Unit is a startable and stoppable background component. Units may also
// implement io.Closer for synchronous disposal.
type Unit interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Host owns an ordered list of units.
type Host struct {
	mu      sync.Mutex
	units   []Unit
	started []Unit
	logger  *utils.Logger
}

// New creates a host for units. Units start in the given order and stop in
// reverse order.
func New(units ...Unit) *Host {
	return &Host{
		units:  units,
		logger: utils.NewLogger("host"),
	}
}

// Add appends a unit. It takes effect at the next Start.
func (h *Host) Add(u Unit) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.units = append(h.units, u)
}

// Start starts every unit. The returned error joins the failures of all
// units; a failed unit is not stopped later.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for _, u := range h.units {
		if err := guard(func() error { return u.Start(ctx) }); err != nil {
			h.logger.Error("Failed to start unit", "unit", u.Name(), "error", err)
			errs = append(errs, fmt.Errorf("start %s: %w", u.Name(), err))
			continue
		}
		h.started = append(h.started, u)
		h.logger.Debug("Unit started", "unit", u.Name())
	}
	return errors.Join(errs...)
}

// Stop stops the started units in reverse start order.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for i := len(h.started) - 1; i >= 0; i-- {
		u := h.started[i]
		if err := guard(func() error { return u.Stop(ctx) }); err != nil {
			h.logger.Error("Failed to stop unit", "unit", u.Name(), "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", u.Name(), err))
			continue
		}
		h.logger.Debug("Unit stopped", "unit", u.Name())
	}
	h.started = nil
	return errors.Join(errs...)
}

// Close disposes every unit implementing io.Closer, in reverse order.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for i := len(h.units) - 1; i >= 0; i-- {
		c, ok := h.units[i].(io.Closer)
		if !ok {
			continue
		}
		name := h.units[i].Name()
		if err := guard(c.Close); err != nil {
			h.logger.Error("Failed to close unit", "unit", name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
