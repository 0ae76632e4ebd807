// SPDX-License-Identifier: MPL-2.0

package library

import (
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Library is one shared object discovered on the host.
type Library struct {
	// CanonicalPath is the real file path, symlinks and ".." collapsed.
	CanonicalPath string
	// Aliases are paths resolving to CanonicalPath, CanonicalPath included.
	Aliases []string
	// Dependencies are the DT_NEEDED entries, as sonames or paths.
	Dependencies []string
	Soname       string
	IsLibcFamily bool
	IsLinker     bool
	// Version is nil when neither the object nor its file name carry one.
	Version *semver.Version
}

// Name returns the base name of the canonical file.
func (l *Library) Name() string {
	return filepath.Base(l.CanonicalPath)
}

// AliasNames returns the distinct base names of the aliases, canonical name first.
func (l *Library) AliasNames() []string {
	names := []string{l.Name()}
	for _, alias := range l.Aliases {
		if base := filepath.Base(alias); !slices.Contains(names, base) {
			names = append(names, base)
		}
	}
	return names
}

// Provides reports whether a DT_NEEDED identifier refers to this library.
func (l *Library) Provides(identifier string) bool {
	if identifier == "" {
		return false
	}
	if identifier == l.CanonicalPath || identifier == l.Soname {
		return true
	}
	if strings.ContainsRune(identifier, '/') {
		return slices.Contains(l.Aliases, filepath.Clean(identifier))
	}
	return slices.Contains(l.AliasNames(), identifier)
}

func (l *Library) addAliases(paths ...string) {
	for _, p := range paths {
		if p != "" && !slices.Contains(l.Aliases, p) {
			l.Aliases = append(l.Aliases, p)
		}
	}
}

func (l *Library) addDependencies(deps ...string) {
	for _, d := range deps {
		if d != "" && !slices.Contains(l.Dependencies, d) {
			l.Dependencies = append(l.Dependencies, d)
		}
	}
}

// merge folds other, which must share the canonical path, into l.
func (l *Library) merge(other *Library) {
	l.addAliases(other.Aliases...)
	l.addDependencies(other.Dependencies...)
	l.IsLibcFamily = l.IsLibcFamily || other.IsLibcFamily
	l.IsLinker = l.IsLinker || other.IsLinker
	if l.Soname == "" {
		l.Soname = other.Soname
	}
	if l.Version == nil {
		l.Version = other.Version
	}
}

var (
	libcFamilyPattern = regexp.MustCompile(
		`^(?:libc|libm|libpthread|libdl|librt|libutil|libresolv|libnsl|libanl|libcrypt|libBrokenLocale|libmvec|libthread_db|libnss_[A-Za-z0-9_]+|libmemusage|libpcprofile|libSegFault|libc_malloc_debug)(?:[-.].*)?\.so(?:\..*)?$`)
	linkerPattern = regexp.MustCompile(`^(?:ld-linux[^/]*|ld64\.so[^/]*|ld\.so[^/]*|ld-[0-9.]+\.so)$`)
	suffixVersion = regexp.MustCompile(`\.so\.(\d+(?:\.\d+){0,2})(?:\.\d+)*$`)
	libcFileName  = regexp.MustCompile(`^(?:libc|ld)-(\d+\.\d+(?:\.\d+)?)\.so$`)
)

// IsLibcFamilyName reports whether a file name or soname belongs to the C runtime.
func IsLibcFamilyName(name string) bool {
	name = filepath.Base(name)
	return libcFamilyPattern.MatchString(name) || IsLinkerName(name)
}

// IsLinkerName reports whether a file name or soname looks like a dynamic loader.
func IsLinkerName(name string) bool {
	return linkerPattern.MatchString(filepath.Base(name))
}

// VersionFromName extracts the numeric suffix of a versioned shared object name
// ("libmpi.so.40.30.0" gives 40.30.0, "libc-2.17.so" gives 2.17). It returns
// nil when the name carries no version.
func VersionFromName(name string) *semver.Version {
	name = filepath.Base(name)
	var raw string
	if m := libcFileName.FindStringSubmatch(name); m != nil {
		raw = m[1]
	} else if m := suffixVersion.FindStringSubmatch(name); m != nil {
		raw = m[1]
	} else {
		return nil
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil
	}
	return v
}
