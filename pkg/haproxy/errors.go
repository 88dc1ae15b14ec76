package haproxy

import "errors"

var (
	// ErrSourceUnavailable is returned when the stats file or URL cannot be read
	ErrSourceUnavailable = errors.New("snapshot source unavailable")

	// ErrMalformedSnapshot is returned for a feed that is not a valid stats table
	ErrMalformedSnapshot = errors.New("malformed snapshot")

	// ErrUnknownStatus is returned for a status outside UP, DOWN and OPEN
	ErrUnknownStatus = errors.New("unknown host status")

	// ErrHostNotFound is returned when a backend has no host with the given name
	ErrHostNotFound = errors.New("host not found")

	// ErrMonitorNotFound is returned for a monitor name with no loaded snapshot
	ErrMonitorNotFound = errors.New("monitor not found")

	// ErrMonitorExists is returned when registering a duplicate monitor name
	ErrMonitorExists = errors.New("monitor already registered")
)
