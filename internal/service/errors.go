package service

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateTitle = errors.New("duplicate title")
	ErrYearOutOfRange = errors.New("year out of range")
	ErrNegativePrice  = errors.New("negative price")
	ErrEmptyTitle     = errors.New("empty title")
	ErrNotFound       = errors.New("book not found")
)

// ValidationError carries the message shown to the client next to the sentinel it wraps.
type ValidationError struct {
	Err     error
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(sentinel error, format string, args ...any) error {
	return &ValidationError{Err: sentinel, Message: fmt.Sprintf(format, args...)}
}

func notFound(id int) error {
	return invalid(ErrNotFound, "Error: no such Book with id %d", id)
}
