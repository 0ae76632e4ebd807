// SPDX-License-Identifier: MPL-2.0

// Package compat decides how host libraries are imported into a container
// whose C runtime may be older or newer than the host's.
package compat

import (
	"fmt"
	"path"

	"github.com/Masterminds/semver/v3"

	"github.com/e4s-project/e4s-cl/internal/library"
)

const (
	// Filter drops the host C runtime and trusts the guest's.
	Filter Decision = iota
	// Overlay imports the host C runtime and runs the command with the host loader.
	Overlay
)

type (
	// Decision is the import strategy for one execution.
	Decision int

	// Selection is the outcome of Select. The caller binds LinkerSource to
	// LinkerOverride and imports every member of Libraries.
	Selection struct {
		Decision  Decision
		Libraries *library.Set
		// LinkerSource is the host loader, set only for Overlay.
		LinkerSource *library.Library
		// LinkerOverride is the loader path inside the container, set only for Overlay.
		LinkerOverride string
	}
)

func (d Decision) String() string {
	switch d {
	case Filter:
		return "filter"
	case Overlay:
		return "overlay"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Decide compares C runtime versions. Binaries built against an older runtime
// run on a newer one, so a newer host runtime is imported along with its
// loader; otherwise the guest runtime is kept. Equal versions keep the guest's.
func Decide(host, guest *semver.Version) Decision {
	if host.GreaterThan(guest) {
		return Overlay
	}
	return Filter
}

// Select applies Decide to set. importDir is the in-container directory the
// libraries will be bound into. An Overlay over a set without exactly one
// loader fails with *library.AmbiguousLinkerError.
func Select(set *library.Set, host, guest *semver.Version, importDir string) (Selection, error) {
	if host == nil || guest == nil {
		return Selection{}, fmt.Errorf("compare C runtime versions: missing version (host=%v, guest=%v)", host, guest)
	}

	decision := Decide(host, guest)
	if decision == Filter {
		return Selection{Decision: Filter, Libraries: set.Without(set.Glib())}, nil
	}

	linker, err := set.Linker()
	if err != nil {
		return Selection{}, err
	}
	return Selection{
		Decision:       Overlay,
		Libraries:      set,
		LinkerSource:   linker,
		LinkerOverride: path.Join(importDir, linker.Name()),
	}, nil
}
