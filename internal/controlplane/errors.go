package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnavailable     = errors.New("store unavailable")
)
