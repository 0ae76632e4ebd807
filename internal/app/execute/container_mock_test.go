// SPDX-License-Identifier: MPL-2.0

package execute

import (
	"context"
	"os"

	"github.com/Masterminds/semver/v3"

	"github.com/e4s-project/e4s-cl/internal/container"
	"github.com/e4s-project/e4s-cl/internal/library"
	"github.com/e4s-project/e4s-cl/pkg/types"
)

// mockContainer records every call in order. BindFile does not touch the
// filesystem.
type mockContainer struct {
	guestLibc  *semver.Version
	getDataErr error
	runCode    types.ExitCode
	runErr     error
	// runHook replaces the canned Run result, e.g. to wait on ctx.
	runHook func(ctx context.Context) (types.ExitCode, error)

	events   []string
	bound    []container.Binding
	probed   int
	ran      [][]string
	closed   int
	script   string // entry script content seen by Run or Invocation
	scriptAt string // host path of the entry script
}

var _ container.Container = (*mockContainer)(nil)

func (m *mockContainer) Kind() container.Kind { return container.Docker }
func (m *mockContainer) Image() string        { return "e4s:test" }
func (m *mockContainer) ImportDir() string    { return container.DefaultImportDir }
func (m *mockContainer) ScriptPath() string   { return container.DefaultScriptPath }
func (m *mockContainer) BindEnv(string, string) {}

func (m *mockContainer) BindFile(source string, opts ...container.BindOption) error {
	b := container.Binding{Source: source, Option: container.ReadOnly}
	for _, opt := range opts {
		opt(&b)
	}
	if b.Dest == "" {
		b.Dest = source
	}
	if b.Dest == m.ScriptPath() {
		m.scriptAt = source
	}
	m.events = append(m.events, "bind")
	m.bound = append(m.bound, b)
	return nil
}

func (m *mockContainer) Bound() []container.Binding { return m.bound }

func (m *mockContainer) GetData(context.Context) error {
	m.events = append(m.events, "get-data")
	m.probed++
	return m.getDataErr
}

func (m *mockContainer) GuestLibcVersion() *semver.Version { return m.guestLibc }
func (m *mockContainer) GuestLinkerPath() string           { return "/lib64/ld-linux-x86-64.so.2" }

func (m *mockContainer) Invocation(command []string) ([]string, error) {
	m.events = append(m.events, "invocation")
	m.readScript()
	return append([]string{"docker", "run", "--rm", "e4s:test"}, command...), nil
}

func (m *mockContainer) Run(ctx context.Context, command []string) (types.ExitCode, error) {
	m.events = append(m.events, "run")
	m.ran = append(m.ran, command)
	m.readScript()
	if m.runHook != nil {
		return m.runHook(ctx)
	}
	return m.runCode, m.runErr
}

func (m *mockContainer) Close() error {
	m.events = append(m.events, "close")
	m.closed++
	return nil
}

func (m *mockContainer) readScript() {
	if data, err := os.ReadFile(m.scriptAt); err == nil {
		m.script = string(data)
	}
}

func (m *mockContainer) count(event string) int {
	n := 0
	for _, e := range m.events {
		if e == event {
			n++
		}
	}
	return n
}

type mockResolver struct {
	set   *library.Set
	err   error
	seeds []string
}

func (r *mockResolver) CreateFrom(_ context.Context, seeds []string) (*library.Set, error) {
	r.seeds = seeds
	return r.set, r.err
}
