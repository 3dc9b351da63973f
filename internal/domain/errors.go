package domain

import "errors"

// Error taxonomy (sentinels). Adapters classify failures into these so that
// callers can decide between retry, dead-letter, and operator escalation
// without inspecting driver-specific error types.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	// ErrTransient marks failures worth retrying with backoff (network,
	// timeouts, connection resets).
	ErrTransient = errors.New("transient failure")
	// ErrFatal marks misconfiguration; retrying cannot help.
	ErrFatal = errors.New("fatal failure")
	// ErrCorrupted marks queue entries whose payload cannot be decoded.
	ErrCorrupted = errors.New("corrupted entry")
	ErrInternal  = errors.New("internal error")
)
