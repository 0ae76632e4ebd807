// SPDX-License-Identifier: MPL-2.0

// Package runctx carries the state shared by every component of one execution:
// the log sink, the snapshot cache and the dry-run flag. It is created by the
// command layer and passed explicitly; no component reads process-wide state.
package runctx

import (
	"io"
	"log/slog"

	"github.com/e4s-project/e4s-cl/internal/cache"
)

// Context is the per-execution context. The zero value is usable: it logs
// nowhere, has no cache and is not a dry run.
type Context struct {
	Logger *slog.Logger
	Cache  *cache.Store
	DryRun bool
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Log returns the context logger, or a discarding logger. Safe on a nil receiver.
func (c *Context) Log() *slog.Logger {
	if c == nil || c.Logger == nil {
		return discard
	}
	return c.Logger
}

// Store returns the snapshot cache, or nil when caching is disabled.
func (c *Context) Store() *cache.Store {
	if c == nil {
		return nil
	}
	return c.Cache
}

// IsDryRun reports whether container processes must not be started.
func (c *Context) IsDryRun() bool {
	return c != nil && c.DryRun
}
