package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"
)

var (
	// ErrNotConfigured is returned when a backend is requested but no
	// connection settings were given
	ErrNotConfigured = errors.New("storage backend not configured")
)

// IsTransient reports whether err is worth retrying: connection failures,
// resource exhaustion and server shutdowns. Authentication failures, missing
// databases and SQL errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection exception
			"53": // insufficient resources
			return true
		}
		switch pqErr.Code {
		case "57P01", "57P02", "57P03": // admin/crash shutdown, cannot connect now
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
