// SPDX-License-Identifier: MPL-2.0

package runctx

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestContext_NilSafe(t *testing.T) {
	t.Parallel()

	var c *Context
	if c.Log() == nil {
		t.Fatal("Log() on nil context returned nil")
	}
	c.Log().Info("dropped")
	if c.Store() != nil {
		t.Error("Store() on nil context should be nil")
	}
	if c.IsDryRun() {
		t.Error("IsDryRun() on nil context should be false")
	}
}

func TestContext_Logger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := &Context{Logger: slog.New(slog.NewTextHandler(&buf, nil)), DryRun: true}
	c.Log().Info("hello", "k", "v")

	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("log output = %q, want it to contain hello", buf.String())
	}
	if !c.IsDryRun() {
		t.Error("IsDryRun() = false, want true")
	}
}
