// SPDX-License-Identifier: MPL-2.0

package library

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const (
	// SnapshotBucket is the cache bucket holding library set snapshots.
	SnapshotBucket = "library-sets"
	// SnapshotVersion is the record layout version written by this build.
	SnapshotVersion = 1
)

type (
	// SnapshotV1 is the persisted form of a resolved Set.
	SnapshotV1 struct {
		Version   int               `msgpack:"version"`
		Key       string            `msgpack:"key"`
		Created   int64             `msgpack:"created"`
		Libraries []LibraryRecordV1 `msgpack:"libraries"`
		// Dirs are the directories searched while resolving, in search order.
		Dirs []DirRecordV1 `msgpack:"dirs"`
	}

	// DirRecordV1 is a searched directory and its modification time, zero
	// when it did not exist. Adding, removing or retargeting an entry
	// changes the time.
	DirRecordV1 struct {
		Path    string `msgpack:"path"`
		ModTime int64  `msgpack:"mod_time"`
	}

	// LibraryRecordV1 is one library of a SnapshotV1. Size and ModTime are
	// those of the canonical file when the snapshot was taken.
	LibraryRecordV1 struct {
		CanonicalPath string   `msgpack:"canonical_path"`
		Aliases       []string `msgpack:"aliases"`
		Dependencies  []string `msgpack:"dependencies"`
		Soname        string   `msgpack:"soname"`
		IsLibcFamily  bool     `msgpack:"is_libc_family"`
		IsLinker      bool     `msgpack:"is_linker"`
		Version       string   `msgpack:"version,omitempty"`
		Size          int64    `msgpack:"size"`
		ModTime       int64    `msgpack:"mod_time"`
	}
)

// SnapshotKey derives the cache key of a resolution: the seeds as given and
// as resolved, their size and modification time, the library path and the
// system directories.
func SnapshotKey(seeds, libraryPath, systemDirs []string) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "v%d\n", SnapshotVersion)
	for _, seed := range seeds {
		canonical, err := canonicalize(seed)
		if err != nil {
			return "", err
		}
		st, err := os.Stat(canonical)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d\n", seed, canonical, st.Size(), st.ModTime().UnixNano())
	}
	fmt.Fprintf(h, "LD_LIBRARY_PATH=%s\n", strings.Join(libraryPath, ":"))
	fmt.Fprintf(h, "system=%s\n", strings.Join(systemDirs, ":"))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// NewSnapshot records set under key along with the directories searched to
// build it.
func NewSnapshot(key string, set *Set, searched []string) (SnapshotV1, error) {
	snap := SnapshotV1{Version: SnapshotVersion, Key: key, Created: time.Now().Unix()}
	for _, dir := range searched {
		snap.Dirs = append(snap.Dirs, DirRecordV1{Path: dir, ModTime: dirModTime(dir)})
	}
	for _, lib := range set.Libraries() {
		st, err := os.Stat(lib.CanonicalPath)
		if err != nil {
			return SnapshotV1{}, err
		}
		rec := LibraryRecordV1{
			CanonicalPath: lib.CanonicalPath,
			Aliases:       lib.Aliases,
			Dependencies:  lib.Dependencies,
			Soname:        lib.Soname,
			IsLibcFamily:  lib.IsLibcFamily,
			IsLinker:      lib.IsLinker,
			Size:          st.Size(),
			ModTime:       st.ModTime().UnixNano(),
		}
		if lib.Version != nil {
			rec.Version = lib.Version.Original()
		}
		snap.Libraries = append(snap.Libraries, rec)
	}
	return snap, nil
}

// Restore rebuilds the Set. It reports false when the snapshot was written by
// another layout version or a fresh resolution could differ: a recorded file
// changed, an alias no longer leads to its library, or a searched directory
// changed.
func (s SnapshotV1) Restore(key string) (*Set, bool) {
	if s.Version != SnapshotVersion || s.Key != key {
		return nil, false
	}
	for _, dir := range s.Dirs {
		if dirModTime(dir.Path) != dir.ModTime {
			return nil, false
		}
	}
	set := NewSet()
	for _, rec := range s.Libraries {
		st, err := os.Stat(rec.CanonicalPath)
		if err != nil || st.Size() != rec.Size || st.ModTime().UnixNano() != rec.ModTime {
			return nil, false
		}
		for _, alias := range rec.Aliases {
			if target, err := canonicalize(alias); err != nil || target != rec.CanonicalPath {
				return nil, false
			}
		}
		lib := &Library{
			CanonicalPath: rec.CanonicalPath,
			Aliases:       rec.Aliases,
			Dependencies:  rec.Dependencies,
			Soname:        rec.Soname,
			IsLibcFamily:  rec.IsLibcFamily,
			IsLinker:      rec.IsLinker,
		}
		if rec.Version != "" {
			if v, err := semver.NewVersion(rec.Version); err == nil {
				lib.Version = v
			}
		}
		set.Add(lib)
	}
	return set, true
}

func (r *Resolver) loadSnapshot(key string) (*Set, bool) {
	var snap SnapshotV1
	found, err := r.rc.Store().Get(SnapshotBucket, key, &snap)
	if err != nil {
		r.rc.Log().Debug("library cache read failed", "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	return snap.Restore(key)
}

func (r *Resolver) saveSnapshot(key string, set *Set) {
	snap, err := NewSnapshot(key, set, r.searched)
	if err == nil {
		err = r.rc.Store().Put(SnapshotBucket, key, snap)
	}
	if err != nil {
		r.rc.Log().Debug("library cache write failed", "error", err)
	}
}

func dirModTime(dir string) int64 {
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return 0
	}
	return st.ModTime().UnixNano()
}
