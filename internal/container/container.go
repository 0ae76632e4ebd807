// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"mvdan.cc/sh/v3/syntax"

	"github.com/e4s-project/e4s-cl/internal/issue"
	"github.com/e4s-project/e4s-cl/internal/runctx"
	"github.com/e4s-project/e4s-cl/pkg/types"
)

const (
	// DefaultImportDir is where host libraries are bound inside the container.
	DefaultImportDir = "/.e4s-cl/hostlibs"
	// DefaultScriptPath is where the entry script is bound inside the container.
	DefaultScriptPath = "/.e4s-cl/entry"

	tailLines = 100
	// killDelay bounds how long a cancelled command may take to exit.
	killDelay = 10 * time.Second
)

type (
	// Container is one launch target for the lifetime of a single execution.
	Container interface {
		Kind() Kind
		Image() string
		BindFile(source string, opts ...BindOption) error
		BindEnv(name, value string)
		Bound() []Binding
		ImportDir() string
		ScriptPath() string
		GetData(ctx context.Context) error
		GuestLibcVersion() *semver.Version
		GuestLinkerPath() string
		Invocation(command []string) ([]string, error)
		Run(ctx context.Context, command []string) (types.ExitCode, error)
		Close() error
	}

	// ExecCommandFunc creates the command used to invoke the backend tool.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// EnvVar is an environment override applied inside the container.
	EnvVar struct {
		Name  string
		Value string
	}

	// backend renders the command line of one container technology.
	backend interface {
		// arguments returns the tool arguments and the variables to add to
		// the tool's own environment.
		arguments(image string, mounts []specs.Mount, env []EnvVar, command []string) (args, procEnv []string, err error)
		close() error
	}

	// Instance implements Container for every supported backend.
	Instance struct {
		kind        Kind
		image       string
		binary      string
		backend     backend
		ledger      Ledger
		env         []EnvVar
		importDir   string
		scriptPath  string
		rc          *runctx.Context
		execCommand ExecCommandFunc
		stdin       io.Reader
		stdout      io.Writer
		stderr      io.Writer
		logDir      string
		siteConfig  string

		probeAttempts int
		probeBackoff  time.Duration
		probed        bool
		guestLibc     *semver.Version
		guestLinker   string
	}

	// Option configures an Instance.
	Option func(*Instance)
)

// WithImportDir sets the in-container library directory.
func WithImportDir(dir string) Option {
	return func(i *Instance) { i.importDir = dir }
}

// WithScriptPath sets the in-container entry script path.
func WithScriptPath(path string) Option {
	return func(i *Instance) { i.scriptPath = path }
}

// WithRunContext sets the per-run context.
func WithRunContext(rc *runctx.Context) Option {
	return func(i *Instance) { i.rc = rc }
}

// WithExecCommand replaces exec.CommandContext.
func WithExecCommand(fn ExecCommandFunc) Option {
	return func(i *Instance) { i.execCommand = fn }
}

// WithBinary sets the backend tool instead of looking it up in PATH.
func WithBinary(path string) Option {
	return func(i *Instance) { i.binary = path }
}

// WithStdio sets the standard streams of the launched command.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(i *Instance) {
		i.stdin, i.stdout, i.stderr = stdin, stdout, stderr
	}
}

// WithProcessLogDir keeps the full stderr of every launched command in a
// file under dir. Empty disables the log files.
func WithProcessLogDir(dir string) Option {
	return func(i *Instance) { i.logDir = dir }
}

// WithSiteConfig sets the shifter site configuration file.
func WithSiteConfig(path string) Option {
	return func(i *Instance) { i.siteConfig = path }
}

// New creates the Instance for kind and image. Unknown kinds and tools missing
// from PATH are reported as actionable *BackendError failures.
func New(kind Kind, image string, opts ...Option) (*Instance, error) {
	i := &Instance{
		kind:          kind,
		image:         image,
		importDir:     DefaultImportDir,
		scriptPath:    DefaultScriptPath,
		execCommand:   exec.CommandContext,
		stdin:         os.Stdin,
		stdout:        os.Stdout,
		stderr:        os.Stderr,
		siteConfig:    DefaultSiteConfig,
		probeAttempts: 3,
		probeBackoff:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(i)
	}

	if err := kind.Validate(); err != nil {
		return nil, backendFailure(kind, err, fmt.Sprintf("Use one of: %s", joinKinds()))
	}
	if strings.TrimSpace(image) == "" {
		return nil, backendFailure(kind, &BackendError{Kind: kind, Err: ErrNoImage}, "Pass the image with --image or set it in the configuration")
	}
	if i.binary == "" {
		path, err := exec.LookPath(kind.Executable())
		if err != nil {
			return nil, backendFailure(kind,
				&BackendError{Kind: kind, Err: fmt.Errorf("%w: %w", ErrBackendNotInstalled, err)},
				fmt.Sprintf("Install %s or load its environment module", kind),
				"Select another backend with --backend")
		}
		i.binary = path
	}

	switch kind {
	case Docker:
		i.backend = &dockerBackend{}
	case Podman:
		i.backend = &dockerBackend{labelVolume: addSELinuxLabel}
	case Singularity:
		i.backend = &singularityBackend{envPrefix: "SINGULARITYENV_"}
	case Apptainer:
		i.backend = &singularityBackend{envPrefix: "APPTAINERENV_"}
	case Shifter:
		i.backend = newShifterBackend(i.siteConfig, i.rc.Log())
	}
	return i, nil
}

func backendFailure(kind Kind, err error, suggestions ...string) error {
	return issue.NewErrorContext().
		WithOperation("set up container backend").
		WithResource(string(kind)).
		WithIssue(issue.BackendUnavailableId).
		WithSuggestions(suggestions...).
		Wrap(err).
		BuildError()
}

func joinKinds() string {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

func (i *Instance) Kind() Kind         { return i.kind }
func (i *Instance) Image() string      { return i.image }
func (i *Instance) ImportDir() string  { return i.importDir }
func (i *Instance) ScriptPath() string { return i.scriptPath }
func (i *Instance) Binary() string     { return i.binary }

// GuestLibcVersion returns the image's C runtime release, nil before GetData.
func (i *Instance) GuestLibcVersion() *semver.Version { return i.guestLibc }

// GuestLinkerPath returns the image's dynamic loader, empty before GetData.
func (i *Instance) GuestLinkerPath() string { return i.guestLinker }

// BindFile records a binding of source. See Ledger.Bind.
func (i *Instance) BindFile(source string, opts ...BindOption) error {
	b, err := i.ledger.Bind(source, opts...)
	if err != nil {
		return err
	}
	i.rc.Log().Debug("bind", "source", b.Source, "dest", b.Dest, "mode", b.Option)
	return nil
}

// Bound returns the ledger entries in request order.
func (i *Instance) Bound() []Binding {
	return i.ledger.Entries()
}

// BindEnv sets an environment variable inside the container. Setting the
// same name again replaces the value.
func (i *Instance) BindEnv(name, value string) {
	for idx := range i.env {
		if i.env[idx].Name == name {
			i.env[idx].Value = value
			return
		}
	}
	i.env = append(i.env, EnvVar{Name: name, Value: value})
}

// Env returns the environment overrides.
func (i *Instance) Env() []EnvVar {
	return append([]EnvVar(nil), i.env...)
}

// Invocation returns the complete backend command line running command with
// every binding and environment override applied. Backends configured through
// their own environment are prefixed with an env(1) call.
func (i *Instance) Invocation(command []string) ([]string, error) {
	args, procEnv, err := i.backend.arguments(i.image, i.ledger.Realize(), i.env, command)
	if err != nil {
		return nil, err
	}
	return i.argv(args, procEnv), nil
}

func (i *Instance) argv(args, procEnv []string) []string {
	var argv []string
	if len(procEnv) > 0 {
		argv = append(append(argv, "env"), procEnv...)
	}
	argv = append(argv, i.binary)
	return append(argv, args...)
}

// Run launches command and waits for it. The child's exit code is returned
// as is; an error is only returned when the backend could not be started.
// In dry-run mode the invocation is logged and nothing is started.
func (i *Instance) Run(ctx context.Context, command []string) (types.ExitCode, error) {
	log := i.rc.Log()

	args, procEnv, err := i.backend.arguments(i.image, i.ledger.Realize(), i.env, command)
	if err != nil {
		return types.ExitInternalError, err
	}
	if i.rc.IsDryRun() {
		log.Info("dry run", "command", ShellJoin(i.argv(args, procEnv)))
		return types.ExitSuccess, nil
	}

	cmd := i.execCommand(ctx, i.binary, args...)
	cmd.Env = append(cmd.Environ(), procEnv...)
	cmd.Stdin, cmd.Stdout = i.stdin, i.stdout
	j := isolate(cmd, i.stdin)
	defer func() {
		if err := j.release(); err != nil {
			log.Debug("reclaim terminal", "error", err)
		}
	}()

	tail := newTailBuffer(tailLines)
	sinks := []io.Writer{tail}
	if i.stderr != nil {
		sinks = append(sinks, i.stderr)
	}
	logFile := i.openProcessLog()
	if logFile != nil {
		defer logFile.Close()
		sinks = append(sinks, logFile)
	}
	cmd.Stderr = io.MultiWriter(sinks...)

	log.Debug("launching", "command", ShellJoin(cmd.Args))
	if err := cmd.Start(); err != nil {
		return types.ExitInternalError, backendFailure(i.kind, &BackendError{Kind: i.kind, Err: err},
			fmt.Sprintf("Check that %s can be executed", i.binary))
	}
	var logPath string
	if logFile != nil {
		logPath = i.nameProcessLog(logFile.Name(), cmd.Process.Pid)
	}
	stop := j.forwardSignals()
	waitErr := cmd.Wait()
	stop()

	code, exited := exitCode(waitErr)
	if !exited {
		return types.ExitInternalError, fmt.Errorf("wait for %s: %w", i.kind, waitErr)
	}
	if !code.IsSuccess() {
		log.Error("command failed", "exit_code", code, "stderr", strings.Join(tail.Lines(), "\n"))
		if logPath != "" {
			log.Error(fmt.Sprintf("See %s for details", logPath))
		}
	}
	return code, nil
}

func (i *Instance) openProcessLog() *os.File {
	if i.logDir == "" {
		return nil
	}
	if err := os.MkdirAll(i.logDir, 0o700); err != nil {
		i.rc.Log().Debug("process log disabled", "error", err)
		return nil
	}
	f, err := os.CreateTemp(i.logDir, "process-*.log")
	if err != nil {
		i.rc.Log().Debug("process log disabled", "error", err)
		return nil
	}
	return f
}

// nameProcessLog links the process log to process.<pid>.log once the pid is
// known. The temporary name is kept when that name is already taken, as with
// a log directory shared between nodes.
func (i *Instance) nameProcessLog(tmp string, pid int) string {
	final := filepath.Join(i.logDir, fmt.Sprintf("process.%d.log", pid))
	if err := os.Link(tmp, final); err != nil {
		i.rc.Log().Debug("keeping temporary process log name", "path", tmp, "error", err)
		return tmp
	}
	if err := os.Remove(tmp); err != nil {
		i.rc.Log().Debug("remove temporary process log", "path", tmp, "error", err)
	}
	return final
}

// Close releases the host resources of the backend. Safe to call twice.
func (i *Instance) Close() error {
	if i.backend == nil {
		return nil
	}
	return i.backend.close()
}

// ShellJoin renders argv as a shell command line.
func ShellJoin(argv []string) string {
	quoted := make([]string, 0, len(argv))
	for _, arg := range argv {
		q, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			q = fmt.Sprintf("%q", arg)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " ")
}

var _ Container = (*Instance)(nil)
