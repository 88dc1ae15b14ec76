package config

import "errors"

var (
	// ErrInvalidFormat is returned for documents that cannot be decoded
	ErrInvalidFormat = errors.New("invalid configuration format")

	// ErrMissingField is returned when a required section is absent
	ErrMissingField = errors.New("missing required field")

	// ErrUnsupportedVersion is returned for a schema version newer than this build
	ErrUnsupportedVersion = errors.New("unsupported configuration version")

	// ErrValidation is returned by ClusterManager.Validate
	ErrValidation = errors.New("cluster configuration invalid")

	ErrClusterExists   = errors.New("cluster already exists")
	ErrClusterNotFound = errors.New("cluster not found")
	ErrHostExists      = errors.New("host already exists")
	ErrHostNotFound    = errors.New("host not found")
	ErrMonitorExists   = errors.New("haproxy monitor already exists")
)
