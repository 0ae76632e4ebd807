// SPDX-License-Identifier: MPL-2.0

package container

import (
	"fmt"
	"slices"
	"strings"
)

const (
	Docker      Kind = "docker"
	Podman      Kind = "podman"
	Singularity Kind = "singularity"
	Apptainer   Kind = "apptainer"
	Shifter     Kind = "shifter"
)

// Kind identifies a container technology.
type Kind string

var kinds = []Kind{Docker, Podman, Singularity, Apptainer, Shifter}

// Kinds returns the supported backends.
func Kinds() []Kind {
	return slices.Clone(kinds)
}

// ParseKind returns the Kind named s, case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Validate returns a *BackendError wrapping ErrUnknownBackend for unsupported kinds.
func (k Kind) Validate() error {
	if slices.Contains(kinds, k) {
		return nil
	}
	return &BackendError{Kind: k, Err: fmt.Errorf("%w %q", ErrUnknownBackend, string(k))}
}

// Executable returns the name of the backend's command line tool.
func (k Kind) Executable() string {
	return string(k)
}

func (k Kind) String() string { return string(k) }
