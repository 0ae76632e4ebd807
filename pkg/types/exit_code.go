// SPDX-License-Identifier: MPL-2.0

// Package types holds small value types shared by the launcher packages.
package types

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	// ExitSuccess is returned when the launched command (or a dry run) succeeds.
	ExitSuccess ExitCode = 0
	// ExitInternalError is returned for failures of the launcher itself: library
	// resolution, ambiguous loaders, backend errors. It mirrors EX_SOFTWARE from
	// sysexits.h so it can be told apart from common shell and engine codes.
	ExitInternalError ExitCode = 70
)

// ErrInvalidExitCode is the sentinel error wrapped by InvalidExitCodeError.
var ErrInvalidExitCode = errors.New("invalid exit code")

type (
	// ExitCode represents a process exit status code.
	// Exit codes are in the range 0-255 on POSIX systems.
	// The zero value (0) means success.
	ExitCode int

	// InvalidExitCodeError is returned when an ExitCode is outside the
	// valid range (0-255).
	InvalidExitCodeError struct {
		Value ExitCode
	}
)

// Error implements the error interface.
func (e *InvalidExitCodeError) Error() string {
	return fmt.Sprintf("invalid exit code %d (must be in range 0-255)", e.Value)
}

// Unwrap returns ErrInvalidExitCode so callers can use errors.Is for programmatic detection.
func (e *InvalidExitCodeError) Unwrap() error { return ErrInvalidExitCode }

// Validate returns an error if the ExitCode is outside the valid range (0-255).
func (c ExitCode) Validate() error {
	if c < 0 || c > 255 {
		return &InvalidExitCodeError{Value: c}
	}
	return nil
}

// IsSuccess returns true if the exit code indicates successful execution.
func (c ExitCode) IsSuccess() bool { return c == ExitSuccess }

// IsTransient returns true if the exit code indicates a transient container
// engine error that may succeed on retry (codes 125 and 126).
func (c ExitCode) IsTransient() bool { return c == 125 || c == 126 }

// FromWaitStatus maps a raw wait status to an ExitCode. Processes killed by a
// signal report -1 from os.ProcessState.ExitCode; those are mapped to the shell
// convention 128+signal when the signal number is known.
func FromWaitStatus(code, signal int) ExitCode {
	if code >= 0 {
		return ExitCode(code)
	}
	if signal > 0 {
		return ExitCode(128 + signal)
	}
	return ExitInternalError
}

// String returns the decimal string representation of the ExitCode.
func (c ExitCode) String() string { return strconv.Itoa(int(c)) }
