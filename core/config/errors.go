package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigFileNotFound is returned when an explicit configuration file does not exist.
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrConfigFileInvalid is returned when a configuration file cannot be parsed
	// or does not contain a mapping.
	ErrConfigFileInvalid = errors.New("configuration file not valid")

	// ErrMissingRequiredField is returned when a required key is absent after merging.
	ErrMissingRequiredField = errors.New("missing required configuration field")

	// ErrUnsupportedValue is returned when a merged source contains a key that
	// is no longer accepted as configuration.
	ErrUnsupportedValue = errors.New("unsupported configuration value")
)

// MissingFieldError names the required key that was missing.
type MissingFieldError struct {
	Key string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingRequiredField, e.Key)
}

// Is reports whether target is ErrMissingRequiredField.
func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingRequiredField
}

// UnsupportedValueError names the rejected configuration key.
type UnsupportedValueError struct {
	Key string
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("%s: %q must be supplied through the agent builder", ErrUnsupportedValue, e.Key)
}

// Is reports whether target is ErrUnsupportedValue.
func (e *UnsupportedValueError) Is(target error) bool {
	return target == ErrUnsupportedValue
}
