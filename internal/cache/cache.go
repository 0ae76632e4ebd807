// SPDX-License-Identifier: MPL-2.0

// Package cache is a small persistent key/value store for derived data that is
// expensive to recompute, such as resolved library sets. Values are explicit
// record types encoded with msgpack; callers own versioning of their records.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const openTimeout = time.Second

// ErrClosed is returned when the store is used after Close.
var ErrClosed = errors.New("cache store is closed")

// Store is a bbolt-backed cache. A nil *Store is a valid, always-missing cache.
//
// The database file is only open, and its lock only held, for the duration of
// one operation. Reads take a shared lock, so concurrent launches on the same
// node can all read while none of them is writing.
type Store struct {
	path   string
	closed atomic.Bool
}

// Open creates the store at path if needed, creating parent directories.
// Another process writing to the file makes Open fail after a short timeout
// instead of blocking the launch.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	s := &Store{path: path}
	db, err := s.open(false)
	if err != nil {
		return nil, err
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("close cache %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) open(readOnly bool) (*bolt.DB, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: openTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", s.path, err)
	}
	return db, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Get decodes the value stored under bucket/key into v. It reports false when
// the entry is absent. A value that fails to decode is treated as absent.
func (s *Store) Get(bucket, key string, v any) (bool, error) {
	if s == nil {
		return false, nil
	}
	db, err := s.open(true)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var raw []byte
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		if data := b.Get([]byte(key)); data != nil {
			raw = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return false, nil //nolint:nilerr // undecodable records are stale
	}
	return true, nil
}

// Put encodes v and stores it under bucket/key.
func (s *Store) Put(bucket, key string, v any) error {
	if s == nil {
		return nil
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return s.update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		return b.Put([]byte(key), data)
	})
}

// Delete removes bucket/key. Missing entries are not an error.
func (s *Store) Delete(bucket, key string) error {
	if s == nil {
		return nil
	}
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) update(fn func(*bolt.Tx) error) (err error) {
	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close cache %s: %w", s.path, cerr)
		}
	}()
	return db.Update(fn)
}

// Close makes further operations fail with ErrClosed. Safe to call more than
// once.
func (s *Store) Close() error {
	if s != nil {
		s.closed.Store(true)
	}
	return nil
}
