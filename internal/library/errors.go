// SPDX-License-Identifier: MPL-2.0

package library

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotDynamic is wrapped when an ELF file has no dynamic section.
	ErrNotDynamic = errors.New("not a dynamically linked ELF object")

	// ErrAmbiguousLinker is the sentinel wrapped by AmbiguousLinkerError.
	ErrAmbiguousLinker = errors.New("ambiguous dynamic loader")
)

type (
	// ResolutionError reports a seed library that is missing or cannot be
	// used as a shared object.
	ResolutionError struct {
		Path string
		Err  error
	}

	// AmbiguousLinkerError reports a set that does not hold exactly one
	// dynamic loader.
	AmbiguousLinkerError struct {
		Linkers []string
	}
)

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s: %v", e.Path, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func (e *AmbiguousLinkerError) Error() string {
	if len(e.Linkers) == 0 {
		return "expected exactly one dynamic loader, found none"
	}
	return fmt.Sprintf("expected exactly one dynamic loader, found %d: %s",
		len(e.Linkers), strings.Join(e.Linkers, ", "))
}

func (e *AmbiguousLinkerError) Unwrap() error { return ErrAmbiguousLinker }
