package storage

import "errors"

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrUnavailable = errors.New("storage: backend unavailable")
	ErrConflict    = errors.New("storage: conditional write conflict")
	ErrNotCounter  = errors.New("storage: value is not a counter")
	// ErrRetriesExhausted is returned when a transaction kept conflicting.
	// It matches ErrUnavailable under errors.Is.
	ErrRetriesExhausted error = &retriesExhausted{}
)

type retriesExhausted struct{}

func (*retriesExhausted) Error() string { return "storage: transaction retries exhausted" }

func (*retriesExhausted) Is(target error) bool { return target == ErrUnavailable }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
