// Package errors defines all exported error sentinels for the linesort library.
//
// This is the single source of truth for error values. The top-level linesort
// package wraps these with the failing phase and the underlying cause, so
// callers can match both with errors.Is:
//
//	if errors.Is(err, streamerrors.ErrTempStorage) && errors.Is(err, syscall.ENOSPC) { ... }
package errors

import "errors"

// Pipeline errors. Every one of them aborts the whole sort.
var (
	ErrInputRead         = errors.New("linesort: cannot read input")
	ErrTempStorage       = errors.New("linesort: temporary storage failure")
	ErrOutputWrite       = errors.New("linesort: cannot write output")
	ErrResourceExhausted = errors.New("linesort: resource exhausted")
)

// Run errors
var (
	ErrRunCorrupted = errors.New("linesort: run file checksum mismatch")
	ErrStoreClosed  = errors.New("linesort: temp store is closed")
)

// Configuration errors
var (
	ErrInvalidConfig = errors.New("linesort: invalid configuration")
)
