// SPDX-License-Identifier: MPL-2.0

package container

import (
	"fmt"
	"path/filepath"
	"slices"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	ReadOnly FileOption = iota
	ReadWrite
)

type (
	// FileOption is the access mode of a binding.
	FileOption int

	// Binding is one ledger entry: a host file made visible in the container.
	Binding struct {
		Source string
		Dest   string
		Option FileOption
	}

	// BindOption customizes a binding.
	BindOption func(*Binding)

	// Ledger is the append-only record of requested bindings. It never
	// collapses entries; Realize computes the effective mount table.
	Ledger struct {
		entries []Binding
	}
)

func (o FileOption) String() string {
	if o == ReadWrite {
		return "rw"
	}
	return "ro"
}

// To sets the destination inside the container. It defaults to the source.
func To(dest string) BindOption {
	return func(b *Binding) { b.Dest = dest }
}

// As sets the access mode. It defaults to ReadOnly.
func As(option FileOption) BindOption {
	return func(b *Binding) { b.Option = option }
}

// Bind canonicalizes source, resolving symlinks and ".." segments, and appends
// the binding. An empty dest binds the file at its canonical path.
func (l *Ledger) Bind(source string, opts ...BindOption) (Binding, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return Binding{}, fmt.Errorf("bind %s: %w", source, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return Binding{}, fmt.Errorf("bind %s: %w", source, err)
	}

	b := Binding{Source: filepath.Clean(canonical), Option: ReadOnly}
	for _, opt := range opts {
		opt(&b)
	}
	if b.Dest == "" {
		b.Dest = b.Source
	}
	b.Dest = filepath.Clean(b.Dest)

	l.entries = append(l.entries, b)
	return b, nil
}

// Entries returns every binding in request order.
func (l *Ledger) Entries() []Binding {
	return slices.Clone(l.entries)
}

// Len returns the number of recorded bindings.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Realize collapses the ledger into one bind mount per destination. The most
// recent source requested for a destination wins; repeated requests for the
// same source and destination keep the broadest access mode. Mounts are
// ordered by the first request of their destination.
func (l *Ledger) Realize() []specs.Mount {
	var (
		mounts []specs.Mount
		modes  []FileOption
		index  = make(map[string]int)
	)
	for _, b := range l.entries {
		i, seen := index[b.Dest]
		if !seen {
			index[b.Dest] = len(mounts)
			mounts = append(mounts, specs.Mount{Destination: b.Dest, Type: "bind", Source: b.Source})
			modes = append(modes, b.Option)
			continue
		}
		if mounts[i].Source == b.Source {
			modes[i] = max(modes[i], b.Option)
		} else {
			mounts[i].Source = b.Source
			modes[i] = b.Option
		}
	}
	for i := range mounts {
		mounts[i].Options = []string{"rbind", modes[i].String()}
	}
	return mounts
}

// IsReadOnly reports whether a realized mount is read-only.
func IsReadOnly(m specs.Mount) bool {
	return slices.Contains(m.Options, "ro")
}
