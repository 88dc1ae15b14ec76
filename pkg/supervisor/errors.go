package supervisor

import "errors"

var (
	// ErrSpawn is returned when the executable cannot be launched
	ErrSpawn = errors.New("failed to spawn process")

	// ErrTimeoutExceeded is returned when the process outlives Options.Timeout
	ErrTimeoutExceeded = errors.New("timeout exceeded")

	// ErrTerminationFailed is returned when escalation is exhausted and the process is still alive
	ErrTerminationFailed = errors.New("termination failed")

	// ErrAlreadyStarted is returned by Execute on a supervisor that was already run
	ErrAlreadyStarted = errors.New("process already started")

	// ErrEmptyCommand is returned by New for an empty argument vector
	ErrEmptyCommand = errors.New("empty command")
)
