package models

import (
	"errors"
	"fmt"
)

// ErrCodeIO marks a filesystem mutation that failed mid-flight, as
// opposed to one a gate refused.
const ErrCodeIO = "IO_FAILURE"

// Sentinel errors
var (
	ErrNothingToUndo    = errors.New("no undoable operations")
	ErrOutsideWhitelist = errors.New("path outside deletion whitelist")
)

// OperationError describes a failed filesystem mutation.
type OperationError struct {
	Code        string
	Op          string
	Path        string
	Destination string
	Err         error
}

func (e *OperationError) Error() string {
	if e.Destination != "" {
		return fmt.Sprintf("%s [%s]: %s -> %s: %v", e.Op, e.Code, e.Path, e.Destination, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s: %v", e.Op, e.Code, e.Path, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// SafetyError reports a classifier or guardian rejection.
type SafetyError struct {
	Path   string
	Reason string
	Detail string
}

func (e *SafetyError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("safety rejection for %s: %s (%s)", e.Path, e.Reason, e.Detail)
	}
	return fmt.Sprintf("safety rejection for %s: %s", e.Path, e.Reason)
}

// HashError reports a per-file hashing failure. Files carrying it are
// excluded from duplicate groups, never merged on a partial digest.
type HashError struct {
	Path string
	Err  error
}

func (e *HashError) Error() string {
	return fmt.Sprintf("hash %s: %v", e.Path, e.Err)
}

func (e *HashError) Unwrap() error {
	return e.Err
}
