// SPDX-License-Identifier: MPL-2.0

package container

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownBackend is wrapped when a backend name is not supported.
	ErrUnknownBackend = errors.New("unknown container backend")
	// ErrBackendNotInstalled is wrapped when the backend tool is not in PATH.
	ErrBackendNotInstalled = errors.New("container backend not installed")
	// ErrNoGuestLibc is wrapped when the image does not report a GNU C library.
	ErrNoGuestLibc = errors.New("no GNU C library reported by the image")
)

// BackendError reports a backend that cannot be used.
type BackendError struct {
	Kind Kind
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// ErrNoImage is wrapped when no image reference is given.
var ErrNoImage = errors.New("no container image given")
