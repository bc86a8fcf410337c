package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationMissing reports a required key that no source provides.
	ErrConfigurationMissing = errors.New("configuration missing")
	// ErrConfigurationFileNotFound reports an explicitly requested file that does not exist.
	ErrConfigurationFileNotFound = errors.New("configuration file not found")
)

// MissingKeyError names the key that could not be resolved.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("required configuration key %q is not set", e.Key)
}

func (e *MissingKeyError) Is(target error) bool {
	return target == ErrConfigurationMissing
}
