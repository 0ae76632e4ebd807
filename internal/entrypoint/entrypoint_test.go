// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"

	"github.com/e4s-project/e4s-cl/internal/container"
	"github.com/e4s-project/e4s-cl/internal/issue"
	"github.com/e4s-project/e4s-cl/internal/library"
	"github.com/e4s-project/e4s-cl/internal/testutil"
)

// ledgerBinder binds into a real ledger so sources are canonicalized.
type ledgerBinder struct {
	ledger container.Ledger
	dir    string
}

func (b *ledgerBinder) BindFile(source string, opts ...container.BindOption) error {
	_, err := b.ledger.Bind(source, opts...)
	return err
}

func (b *ledgerBinder) ImportDir() string { return b.dir }

type failingBinder struct{ calls int }

func (b *failingBinder) BindFile(string, ...container.BindOption) error {
	b.calls++
	return errors.New("bind refused")
}

func (b *failingBinder) ImportDir() string { return "/import" }

func TestImportLibrary(t *testing.T) {
	t.Parallel()

	dir := testutil.TempDir(t)
	canonical := filepath.Join(dir, "libmpi.so.12.1.8")
	testutil.MustWriteFile(t, canonical, "ELF")
	aliases := []string{canonical}
	for _, name := range []string{"libmpi.so.12", "libmpi.so"} {
		link := filepath.Join(dir, name)
		testutil.MustSymlink(t, filepath.Base(canonical), link)
		aliases = append(aliases, link)
	}
	lib := &library.Library{CanonicalPath: canonical, Aliases: aliases}

	b := &ledgerBinder{dir: "/.e4s-cl/hostlibs"}
	if err := ImportLibrary(b, lib); err != nil {
		t.Fatalf("ImportLibrary() error = %v", err)
	}

	entries := b.ledger.Entries()
	var dests []string
	for _, e := range entries {
		dests = append(dests, e.Dest)
		if e.Source != canonical {
			t.Errorf("entry %s has source %s, want %s", e.Dest, e.Source, canonical)
		}
		if e.Option != container.ReadOnly {
			t.Errorf("entry %s is %s, want ro", e.Dest, e.Option)
		}
	}
	want := []string{
		"/.e4s-cl/hostlibs/libmpi.so.12.1.8",
		"/.e4s-cl/hostlibs/libmpi.so.12",
		"/.e4s-cl/hostlibs/libmpi.so",
	}
	if diff := cmp.Diff(want, dests); diff != "" {
		t.Errorf("destinations mismatch (-want +got):\n%s", diff)
	}
}

func TestImportLibrary_Error(t *testing.T) {
	t.Parallel()

	b := &failingBinder{}
	lib := &library.Library{CanonicalPath: "/usr/lib/libz.so.1.3", Aliases: []string{"/usr/lib/libz.so.1.3", "/usr/lib/libz.so.1"}}
	if err := ImportLibrary(b, lib); err == nil || !strings.Contains(err.Error(), "libz.so.1.3") {
		t.Errorf("ImportLibrary() error = %v, want import failure naming the library", err)
	}
	if b.calls != 1 {
		t.Errorf("calls = %d, want the import to stop at the first failure", b.calls)
	}
}

func TestImportPath(t *testing.T) {
	t.Parallel()

	lib := &library.Library{CanonicalPath: "/opt/mpi/lib/libmpi.so.40.30.0"}
	if got := ImportPath("/.e4s-cl/hostlibs", lib); got != "/.e4s-cl/hostlibs/libmpi.so.40.30.0" {
		t.Errorf("ImportPath() = %s", got)
	}
}

// runScript interprets script and returns the arguments and environment the
// final exec received.
func runScript(t *testing.T, script string, env ...string) (args []string, execEnv expand.Environ) {
	t.Helper()
	args, execEnv, stderr, err := interpretScript(t, script, env...)
	if err != nil {
		t.Fatalf("run script: %v\nstderr: %s", err, stderr)
	}
	return args, execEnv
}

// interpretScript runs script with exec calls captured instead of performed.
func interpretScript(t *testing.T, script string, env ...string) (args []string, execEnv expand.Environ, stderrOut string, err error) {
	t.Helper()

	prog, err := syntaxParse(script)
	if err != nil {
		t.Fatalf("parse script: %v\n%s", err, script)
	}

	var stderr bytes.Buffer
	runner, err := interp.New(
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, &bytes.Buffer{}, &stderr),
		interp.ExecHandlers(func(interp.ExecHandlerFunc) interp.ExecHandlerFunc {
			return func(ctx context.Context, a []string) error {
				args = a
				execEnv = interp.HandlerCtx(ctx).Env
				return nil
			}
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	err = runner.Run(context.Background(), prog)
	return args, execEnv, stderr.String(), err
}

func TestScript_Run(t *testing.T) {
	t.Parallel()

	sourced := filepath.Join(t.TempDir(), "setup env.sh")
	testutil.MustWriteFile(t, sourced, "E4S_SOURCED=yes\nexport E4S_SOURCED\n")

	tests := []struct {
		name        string
		entry       Entrypoint
		env         []string
		wantArgs    []string
		wantLibPath string
		wantPreload string
		wantSourced bool
	}{
		{
			name: "filter",
			entry: Entrypoint{
				Command:    []string{"./a.out", "--size", "it's big"},
				Preload:    []string{"/.e4s-cl/hostlibs/libmpi.so.12", "/.e4s-cl/hostlibs/libfabric.so.1"},
				LibraryDir: "/.e4s-cl/hostlibs",
			},
			wantArgs:    []string{"./a.out", "--size", "it's big"},
			wantLibPath: "/.e4s-cl/hostlibs",
			wantPreload: "/.e4s-cl/hostlibs/libmpi.so.12:/.e4s-cl/hostlibs/libfabric.so.1",
		},
		{
			name: "existing search path is kept",
			entry: Entrypoint{
				Command:    []string{"hostname"},
				LibraryDir: "/.e4s-cl/hostlibs",
			},
			env:         []string{"LD_LIBRARY_PATH=/guest/lib", "LD_PRELOAD=/guest/libhook.so"},
			wantArgs:    []string{"hostname"},
			wantLibPath: "/.e4s-cl/hostlibs:/guest/lib",
			wantPreload: "/guest/libhook.so",
		},
		{
			name: "overlay runs through the host loader",
			entry: Entrypoint{
				Command:        []string{"/opt/app/bin/solver", "$HOME"},
				LibraryDir:     "/.e4s-cl/hostlibs",
				LinkerOverride: "/.e4s-cl/hostlibs/ld-linux-x86-64.so.2",
			},
			wantArgs:    []string{"/.e4s-cl/hostlibs/ld-linux-x86-64.so.2", "/opt/app/bin/solver", "$HOME"},
			wantLibPath: "/.e4s-cl/hostlibs",
		},
		{
			name: "source script",
			entry: Entrypoint{
				Command:          []string{"env"},
				SourceScriptPath: sourced,
				Debug:            true,
			},
			wantArgs:    []string{"env"},
			wantSourced: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			script, err := tt.entry.Script()
			if err != nil {
				t.Fatalf("Script() error = %v", err)
			}
			args, env := runScript(t, script, tt.env...)

			if diff := cmp.Diff(tt.wantArgs, args); diff != "" {
				t.Errorf("exec arguments mismatch (-want +got):\n%s\nscript:\n%s", diff, script)
			}
			if got := env.Get("LD_LIBRARY_PATH").String(); got != tt.wantLibPath {
				t.Errorf("LD_LIBRARY_PATH = %q, want %q", got, tt.wantLibPath)
			}
			if got := env.Get("LD_PRELOAD").String(); got != tt.wantPreload {
				t.Errorf("LD_PRELOAD = %q, want %q", got, tt.wantPreload)
			}
			if got := env.Get("E4S_SOURCED").String() == "yes"; got != tt.wantSourced {
				t.Errorf("sourced = %v, want %v", got, tt.wantSourced)
			}
		})
	}
}

func TestScript_OverlayRejectsNonFiles(t *testing.T) {
	t.Parallel()

	for _, command := range []string{"echo", "e4s-cl-no-such-command"} {
		t.Run(command, func(t *testing.T) {
			t.Parallel()

			e := Entrypoint{
				Command:        []string{command, "hello"},
				LinkerOverride: "/.e4s-cl/hostlibs/ld-linux-x86-64.so.2",
			}
			script, err := e.Script()
			if err != nil {
				t.Fatal(err)
			}
			args, _, stderr, err := interpretScript(t, script)

			var status interp.ExitStatus
			if !errors.As(err, &status) || int(status) != notExecutable {
				t.Fatalf("script error = %v, want exit status %d", err, notExecutable)
			}
			if args != nil {
				t.Errorf("loader was executed with %v", args)
			}
			if !strings.Contains(stderr, command+": "+overlayNeedsFile) {
				t.Errorf("stderr = %q, want the command named", stderr)
			}
		})
	}
}

func TestScript_Layout(t *testing.T) {
	t.Parallel()

	e := Entrypoint{
		Command:          []string{"./a.out"},
		Preload:          []string{"/lib/a.so"},
		LibraryDir:       "/lib",
		SourceScriptPath: "/etc/profile",
		Debug:            true,
	}
	script, err := e.Script()
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(script, "#!/bin/sh\nset -x\n") {
		t.Errorf("script does not start with the shebang and trace:\n%s", script)
	}
	order := []string{"LD_LIBRARY_PATH=", "LD_PRELOAD=", ". /etc/profile", "exec ./a.out"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(script, marker)
		if idx <= last {
			t.Fatalf("%q out of order in:\n%s", marker, script)
		}
		last = idx
	}
}

func TestScript_EmptyCommand(t *testing.T) {
	t.Parallel()

	e := Entrypoint{LibraryDir: "/lib"}
	if _, err := e.Script(); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Script() error = %v, want ErrEmptyCommand", err)
	}

	_, err := e.Setup()
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || ae.Issue != issue.EntrypointGenerationFailedId {
		t.Errorf("Setup() error = %v, want an entrypoint generation failure", err)
	}
	if !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Setup() error does not wrap ErrEmptyCommand: %v", err)
	}
}

func TestSetupTeardown(t *testing.T) {
	t.Parallel()

	e := &Entrypoint{Command: []string{"true"}}
	name, err := e.Setup()
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if e.ScriptPath() != name {
		t.Errorf("ScriptPath() = %s, want %s", e.ScriptPath(), name)
	}

	info, err := os.Stat(name)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("script mode = %v, want 0755", info.Mode().Perm())
	}
	if _, err := syntaxParse(testutil.MustReadFile(t, name)); err != nil {
		t.Errorf("written script does not parse: %v", err)
	}

	if err := e.Teardown(); err != nil {
		t.Fatalf("first Teardown() error = %v", err)
	}
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Errorf("script still present after Teardown: %v", err)
	}
	if err := e.Teardown(); err != nil {
		t.Errorf("second Teardown() error = %v", err)
	}
}

func TestTeardown_Absent(t *testing.T) {
	t.Parallel()

	var never Entrypoint
	if err := never.Teardown(); err != nil {
		t.Errorf("Teardown() without Setup error = %v", err)
	}

	e := &Entrypoint{Command: []string{"true"}}
	name, err := e.Setup()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(name); err != nil {
		t.Fatal(err)
	}
	if err := e.Teardown(); err != nil {
		t.Errorf("Teardown() after external removal error = %v", err)
	}
}
