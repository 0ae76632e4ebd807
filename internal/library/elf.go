// SPDX-License-Identifier: MPL-2.0

package library

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ObjectInfo is the dynamic linking metadata of one ELF file.
type ObjectInfo struct {
	Soname  string
	Needed  []string
	RunPath []string
	RPath   []string
	// Interp is the PT_INTERP of the object, empty for most shared libraries.
	Interp  string
	Class   elf.Class
	Machine elf.Machine
	// LibcVersion is only read for C runtime objects.
	LibcVersion *semver.Version
}

// Inspector reads the metadata of the ELF file at path.
type Inspector func(path string) (*ObjectInfo, error)

// Compatible reports whether a candidate can satisfy a dependency of o.
func (o *ObjectInfo) Compatible(candidate *ObjectInfo) bool {
	return o.Class == candidate.Class && o.Machine == candidate.Machine
}

var libcBanner = regexp.MustCompile(`GNU C Library[^\n\x00]*? version (\d+\.\d+(?:\.\d+)?)`)

// ReadObject is the Inspector backed by debug/elf.
func ReadObject(path string) (*ObjectInfo, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info := &ObjectInfo{Class: f.Class, Machine: f.Machine}
	dynamic := false
	for _, prog := range f.Progs {
		switch prog.Type {
		case elf.PT_DYNAMIC:
			dynamic = true
		case elf.PT_INTERP:
			data, err := io.ReadAll(prog.Open())
			if err != nil {
				return nil, fmt.Errorf("read interpreter: %w", err)
			}
			info.Interp = string(bytes.TrimRight(data, "\x00"))
		}
	}
	if !dynamic {
		return nil, ErrNotDynamic
	}

	if info.Needed, err = f.ImportedLibraries(); err != nil {
		return nil, fmt.Errorf("read DT_NEEDED: %w", err)
	}
	if sonames, err := f.DynString(elf.DT_SONAME); err == nil && len(sonames) > 0 {
		info.Soname = sonames[0]
	}
	info.RunPath = dynPaths(f, elf.DT_RUNPATH)
	info.RPath = dynPaths(f, elf.DT_RPATH)

	if IsLibcFamilyName(path) || IsLibcFamilyName(info.Soname) {
		info.LibcVersion = libcVersion(f)
	}
	return info, nil
}

func dynPaths(f *elf.File, tag elf.DynTag) []string {
	values, err := f.DynString(tag)
	if err != nil {
		return nil
	}
	var paths []string
	for _, v := range values {
		for _, p := range strings.Split(v, ":") {
			if p != "" {
				paths = append(paths, p)
			}
		}
	}
	return paths
}

// libcVersion reads the release banner embedded in libc.so.6, then falls back
// to the highest GLIBC_ symbol version the object defines.
func libcVersion(f *elf.File) *semver.Version {
	if sec := f.Section(".rodata"); sec != nil {
		if data, err := sec.Data(); err == nil {
			if m := libcBanner.FindSubmatch(data); m != nil {
				if v, err := semver.NewVersion(string(m[1])); err == nil {
					return v
				}
			}
		}
	}

	syms, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil
	}
	var highest *semver.Version
	for _, sym := range syms {
		if sym.Section == elf.SHN_UNDEF || !strings.HasPrefix(sym.Version, "GLIBC_") {
			continue
		}
		v, err := semver.NewVersion(strings.TrimPrefix(sym.Version, "GLIBC_"))
		if err != nil {
			continue
		}
		if highest == nil || v.GreaterThan(highest) {
			highest = v
		}
	}
	return highest
}

// LibcVersion returns the release of the C runtime object at path, read from
// the object itself or, for older layouts, from its versioned file name.
func LibcVersion(path string) (*semver.Version, error) {
	canonical, err := canonicalize(path)
	if err != nil {
		return nil, err
	}
	info, err := ReadObject(canonical)
	if err != nil {
		return nil, err
	}
	if info.LibcVersion != nil {
		return info.LibcVersion, nil
	}
	if libcFileName.MatchString(filepath.Base(canonical)) {
		if v := VersionFromName(canonical); v != nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no version information in %s", canonical)
}
