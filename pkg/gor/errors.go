package gor

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration matches every synthesis failure
var ErrInvalidConfiguration = errors.New("invalid configuration")

var (
	ErrExecutableNotFound = errors.New("executable not found")
	ErrInvalidPort        = errors.New("invalid port")
	ErrInvalidPath        = errors.New("invalid path")
	ErrInvalidRewrite     = errors.New("invalid rewrite rule")
	ErrInvalidHost        = errors.New("invalid host")
	ErrEmptyHostList      = errors.New("empty host list")
	ErrInvalidDuration    = errors.New("invalid duration")
	ErrInvalidInputType   = errors.New("invalid input type")
)

// ConfigError identifies the configuration value that stopped synthesis
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrInvalidConfiguration) match any ConfigError
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

func configError(field, value string, err error) error {
	return &ConfigError{Field: field, Value: value, Err: err}
}
