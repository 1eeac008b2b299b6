package domain

import (
	"errors"
	"fmt"
)

// ErrNotStored is returned by persistence adapters when no value was saved yet.
var ErrNotStored = errors.New("value not stored")

// ReadError is a transient failure to read a required value from the cache.
type ReadError struct {
	Step    string
	Battery string
	Path    string
}

func (e ReadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("read error during step %q, battery %s: %s unavailable", e.Step, e.Battery, e.Path)
	}
	return fmt.Sprintf("read error during step %q, battery %s", e.Step, e.Battery)
}

// ConfigError is an invariant violation that cannot resolve by retrying.
type ConfigError struct {
	Reason string
}

func (e ConfigError) Error() string {
	return "configuration error: " + e.Reason
}

func IsReadError(err error) bool {
	var re ReadError
	return errors.As(err, &re)
}

func IsConfigError(err error) bool {
	var ce ConfigError
	return errors.As(err, &ce)
}
