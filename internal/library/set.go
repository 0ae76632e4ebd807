// SPDX-License-Identifier: MPL-2.0

package library

import (
	"fmt"
	"path/filepath"

	"github.com/samber/lo"
)

// Set is an insertion-ordered collection of libraries keyed by canonical path.
// Views return new sets sharing the same *Library values.
type Set struct {
	libs  []*Library
	index map[string]*Library
}

// NewSet returns a set holding libs, merging entries with equal canonical paths.
func NewSet(libs ...*Library) *Set {
	s := &Set{index: make(map[string]*Library)}
	for _, lib := range libs {
		s.Add(lib)
	}
	return s
}

// Add inserts lib, or merges it into the member with the same canonical path.
// It returns the member held by the set.
func (s *Set) Add(lib *Library) *Library {
	if s.index == nil {
		s.index = make(map[string]*Library)
	}
	lib.addAliases(lib.CanonicalPath)
	if existing, ok := s.index[lib.CanonicalPath]; ok {
		if existing != lib {
			existing.merge(lib)
		}
		return existing
	}
	s.index[lib.CanonicalPath] = lib
	s.libs = append(s.libs, lib)
	return lib
}

// Len returns the number of members.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.libs)
}

// Libraries returns the members in insertion order.
func (s *Set) Libraries() []*Library {
	if s == nil {
		return nil
	}
	return append([]*Library(nil), s.libs...)
}

// Get returns the member with the given canonical path.
func (s *Set) Get(canonical string) (*Library, bool) {
	if s == nil {
		return nil, false
	}
	lib, ok := s.index[canonical]
	return lib, ok
}

// Find returns the first member providing identifier, matched against
// canonical paths, sonames, aliases and alias base names.
func (s *Set) Find(identifier string) (*Library, bool) {
	if lib, ok := s.Get(identifier); ok {
		return lib, true
	}
	return lo.Find(s.Libraries(), func(lib *Library) bool {
		return lib.Provides(identifier)
	})
}

func (s *Set) filter(keep func(*Library) bool) *Set {
	return NewSet(lo.Filter(s.Libraries(), func(lib *Library, _ int) bool {
		return keep(lib)
	})...)
}

// Glib returns the C runtime members, the loader included.
func (s *Set) Glib() *Set {
	return s.filter(func(lib *Library) bool { return lib.IsLibcFamily })
}

// Linkers returns the dynamic loaders.
func (s *Set) Linkers() *Set {
	return s.filter(func(lib *Library) bool { return lib.IsLinker })
}

// TopLevel returns the members no other member depends on. The roots of the
// dependency forest are the only libraries that need to be preloaded.
func (s *Set) TopLevel() *Set {
	libs := s.Libraries()
	return s.filter(func(candidate *Library) bool {
		return !lo.ContainsBy(libs, func(other *Library) bool {
			return other != candidate && lo.ContainsBy(other.Dependencies, candidate.Provides)
		})
	})
}

// Without returns the members of s that are not in other.
func (s *Set) Without(other *Set) *Set {
	return s.filter(func(lib *Library) bool {
		_, excluded := other.Get(lib.CanonicalPath)
		return !excluded
	})
}

// Linker returns the only dynamic loader of the set, or an
// *AmbiguousLinkerError when there are none or several.
func (s *Set) Linker() (*Library, error) {
	linkers := s.Linkers().Libraries()
	if len(linkers) != 1 {
		return nil, &AmbiguousLinkerError{Linkers: lo.Map(linkers, func(lib *Library, _ int) string {
			return lib.CanonicalPath
		})}
	}
	return linkers[0], nil
}

// LDDFormat renders the set the way ldd prints a dependency list.
func (s *Set) LDDFormat() []string {
	return lo.Map(s.Libraries(), func(lib *Library, _ int) string {
		name := lib.Soname
		if name == "" {
			name = filepath.Base(lib.Aliases[0])
		}
		line := fmt.Sprintf("%s => %s", name, lib.CanonicalPath)
		if lib.Version != nil {
			line += " (" + lib.Version.Original() + ")"
		}
		return line
	})
}
