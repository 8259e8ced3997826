package messaging

import (
	"errors"
	"fmt"
)

// Error classes. Use errors.Is to classify errors returned by this package
// and by the packages built on it.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("invalid input")
	ErrStorage    = errors.New("storage failure")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("messaging: %w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func storageErr(op string, err error) error {
	return fmt.Errorf("messaging: %s: %w: %w", op, ErrStorage, err)
}
