// SPDX-License-Identifier: MPL-2.0

package library

import (
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/e4s-project/e4s-cl/internal/runctx"
)

const memoSize = 1024

// ErrNotFound is returned by Locate when no search directory holds the library.
var ErrNotFound = errors.New("library not found in search path")

type (
	// Resolver discovers the transitive closure of shared libraries.
	// It is not safe for concurrent use.
	Resolver struct {
		inspect     Inspector
		memo        *lru.Cache[string, *ObjectInfo]
		libraryPath []string
		systemDirs  []string
		ldSoConf    string
		rc          *runctx.Context

		confOnce sync.Once
		confDirs []string
		dirCache map[string][]os.DirEntry
		// searched lists the directories probed by the current CreateFrom.
		searched []string
	}

	// Option configures a Resolver.
	Option func(*Resolver)

	pending struct {
		lib  *Library
		info *ObjectInfo
	}
)

// WithInspector replaces the ELF reader.
func WithInspector(inspect Inspector) Option {
	return func(r *Resolver) { r.inspect = inspect }
}

// WithLibraryPath replaces the LD_LIBRARY_PATH directories.
func WithLibraryPath(dirs []string) Option {
	return func(r *Resolver) { r.libraryPath = dirs }
}

// WithSystemDirs replaces the ld.so.conf and default directories.
func WithSystemDirs(dirs []string) Option {
	return func(r *Resolver) { r.systemDirs = dirs }
}

// WithLdSoConf sets the loader configuration file.
func WithLdSoConf(path string) Option {
	return func(r *Resolver) { r.ldSoConf = path }
}

// WithRunContext sets the per-run context used for logging and snapshots.
func WithRunContext(rc *runctx.Context) Option {
	return func(r *Resolver) { r.rc = rc }
}

// NewResolver creates a Resolver searching LD_LIBRARY_PATH and the system
// loader directories.
func NewResolver(opts ...Option) *Resolver {
	memo, err := lru.New[string, *ObjectInfo](memoSize)
	if err != nil {
		panic(err) // only fails on a non-positive size
	}
	r := &Resolver{
		inspect:     ReadObject,
		memo:        memo,
		libraryPath: splitPathList(os.Getenv("LD_LIBRARY_PATH")),
		ldSoConf:    DefaultLdSoConf,
		dirCache:    make(map[string][]os.DirEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateFrom resolves seeds and everything they depend on into a Set.
//
// Every seed must exist and be a dynamically linked ELF object, otherwise a
// *ResolutionError is returned. Dependencies the host cannot satisfy are
// skipped. A closure holding more than one distinct dynamic loader fails with
// an *AmbiguousLinkerError.
func (r *Resolver) CreateFrom(ctx context.Context, seeds []string) (*Set, error) {
	log := r.rc.Log()

	r.searched = nil
	key, cacheable := "", r.rc.Store() != nil
	if cacheable {
		var err error
		if key, err = SnapshotKey(seeds, r.libraryPath, r.configuredDirs()); err != nil {
			cacheable = false
		} else if set, ok := r.loadSnapshot(key); ok {
			log.Debug("library set restored from cache", "key", key, "libraries", set.Len())
			return set, nil
		}
	}

	set := NewSet()
	var queue []pending
	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		canonical, err := canonicalize(seed)
		if err != nil {
			return nil, &ResolutionError{Path: seed, Err: err}
		}
		info, err := r.info(canonical)
		if err != nil {
			return nil, &ResolutionError{Path: seed, Err: err}
		}
		if lib, added := r.admit(set, seed, canonical, info); added {
			queue = append(queue, pending{lib: lib, info: info})
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]

		origin := filepath.Dir(cur.lib.CanonicalPath)
		for _, needed := range cur.info.Needed {
			found, err := r.locate(needed, cur.info, origin)
			if err != nil {
				log.Debug("dependency not found on host", "library", cur.lib.CanonicalPath, "needed", needed)
				continue
			}
			if next, ok := r.discover(set, found); ok {
				queue = append(queue, next)
			}
		}

		if cur.info.Interp == "" {
			continue
		}
		next, added := r.discover(set, cur.info.Interp)
		if next.lib == nil {
			log.Debug("interpreter not found on host", "library", cur.lib.CanonicalPath, "interp", cur.info.Interp)
			continue
		}
		next.lib.IsLinker = true
		next.lib.IsLibcFamily = true
		if added {
			queue = append(queue, next)
		}
	}

	if set.Linkers().Len() > 1 {
		_, err := set.Linker()
		return nil, err
	}

	for _, line := range set.LDDFormat() {
		log.Debug(line)
	}
	if cacheable {
		r.saveSnapshot(key, set)
	}
	return set, nil
}

// discover admits the library at path. The returned pending entry has a nil
// library when path cannot be read; added reports whether it is new to set.
func (r *Resolver) discover(set *Set, path string) (pending, bool) {
	canonical, err := canonicalize(path)
	if err != nil {
		return pending{}, false
	}
	info, err := r.info(canonical)
	if err != nil {
		r.rc.Log().Debug("skipping unreadable dependency", "path", path, "error", err)
		return pending{}, false
	}
	lib, added := r.admit(set, path, canonical, info)
	return pending{lib: lib, info: info}, added
}

func (r *Resolver) admit(set *Set, discovered, canonical string, info *ObjectInfo) (*Library, bool) {
	discovered = cleanAbs(discovered)
	if existing, ok := set.Get(canonical); ok {
		existing.addAliases(discovered)
		existing.addAliases(r.symlinkAliases(existing, filepath.Dir(discovered))...)
		return existing, false
	}

	lib := &Library{
		CanonicalPath: canonical,
		Soname:        info.Soname,
		Dependencies:  slices.Clone(info.Needed),
	}
	lib.addAliases(canonical, discovered)
	lib.addAliases(r.symlinkAliases(lib, filepath.Dir(discovered))...)

	names := append(lib.AliasNames(), info.Soname)
	lib.IsLinker = slices.ContainsFunc(names, IsLinkerName)
	lib.IsLibcFamily = lib.IsLinker || slices.ContainsFunc(names, IsLibcFamilyName)
	if lib.IsLibcFamily && info.LibcVersion != nil {
		lib.Version = info.LibcVersion
	} else {
		lib.Version = VersionFromName(canonical)
	}
	return set.Add(lib), true
}

// symlinkAliases lists the symlinks next to the library, or in extraDir, that
// resolve to it. Only names sharing the library's stem or its soname are checked.
func (r *Resolver) symlinkAliases(lib *Library, extraDir string) []string {
	stem := lib.Name()
	if i := strings.Index(stem, ".so"); i >= 0 {
		stem = stem[:i+3]
	}

	var aliases []string
	for _, dir := range appendUnique([]string{filepath.Dir(lib.CanonicalPath)}, extraDir) {
		for _, entry := range r.readDir(dir) {
			name := entry.Name()
			if entry.Type()&os.ModeSymlink == 0 || (!strings.HasPrefix(name, stem) && name != lib.Soname) {
				continue
			}
			candidate := filepath.Join(dir, name)
			if target, err := canonicalize(candidate); err == nil && target == lib.CanonicalPath {
				aliases = append(aliases, candidate)
			}
		}
	}
	return aliases
}

func (r *Resolver) readDir(dir string) []os.DirEntry {
	if entries, ok := r.dirCache[dir]; ok {
		return entries
	}
	entries, _ := os.ReadDir(dir)
	r.dirCache[dir] = entries
	return entries
}

func (r *Resolver) info(canonical string) (*ObjectInfo, error) {
	if info, ok := r.memo.Get(canonical); ok {
		return info, nil
	}
	info, err := r.inspect(canonical)
	if err != nil {
		return nil, err
	}
	r.memo.Add(canonical, info)
	return info, nil
}

// Locate returns the path the host loader would use for name when required
// by a native binary.
func (r *Resolver) Locate(name string) (string, error) {
	return r.locate(name, HostObject(), "")
}

func (r *Resolver) locate(name string, requester *ObjectInfo, origin string) (string, error) {
	if strings.ContainsRune(name, '/') {
		if isRegular(name) {
			return name, nil
		}
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	for _, dir := range r.searchDirs(requester, origin) {
		if !slices.Contains(r.searched, dir) {
			r.searched = append(r.searched, dir)
		}
		candidate := filepath.Join(dir, name)
		if !isRegular(candidate) {
			continue
		}
		canonical, err := canonicalize(candidate)
		if err != nil {
			continue
		}
		info, err := r.info(canonical)
		if err != nil || !requester.Compatible(info) {
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("%s: %w", name, ErrNotFound)
}

// searchDirs follows the loader order: DT_RPATH (ignored when DT_RUNPATH is
// present), LD_LIBRARY_PATH, DT_RUNPATH, then system directories.
func (r *Resolver) searchDirs(requester *ObjectInfo, origin string) []string {
	var dirs []string
	if len(requester.RunPath) == 0 {
		for _, d := range requester.RPath {
			dirs = append(dirs, expandOrigin(d, origin, requester.Class))
		}
	}
	dirs = append(dirs, r.libraryPath...)
	for _, d := range requester.RunPath {
		dirs = append(dirs, expandOrigin(d, origin, requester.Class))
	}
	return appendUnique(dirs, r.system(requester)...)
}

func (r *Resolver) system(requester *ObjectInfo) []string {
	if r.systemDirs != nil {
		return r.systemDirs
	}
	return appendUnique(r.configuredDirs(), defaultDirs(requester.Class, requester.Machine)...)
}

// configuredDirs returns the system directories that do not depend on the
// requesting object: the override, or the ld.so.conf entries.
func (r *Resolver) configuredDirs() []string {
	if r.systemDirs != nil {
		return slices.Clone(r.systemDirs)
	}
	r.confOnce.Do(func() { r.confDirs = ReadLdSoConf(r.ldSoConf) })
	return slices.Clone(r.confDirs)
}

// HostObject describes a native binary of the running architecture.
func HostObject() *ObjectInfo {
	info := &ObjectInfo{Class: elf.ELFCLASS64}
	switch runtime.GOARCH {
	case "amd64":
		info.Machine = elf.EM_X86_64
	case "arm64":
		info.Machine = elf.EM_AARCH64
	case "ppc64le":
		info.Machine = elf.EM_PPC64
	case "riscv64":
		info.Machine = elf.EM_RISCV
	case "386":
		info.Class, info.Machine = elf.ELFCLASS32, elf.EM_386
	}
	return info
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return filepath.Clean(resolved), nil
}

func cleanAbs(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func isRegular(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
