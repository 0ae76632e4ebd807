// SPDX-License-Identifier: MPL-2.0

package execute

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/e4s-project/e4s-cl/internal/compat"
	"github.com/e4s-project/e4s-cl/internal/container"
	"github.com/e4s-project/e4s-cl/internal/entrypoint"
	"github.com/e4s-project/e4s-cl/internal/issue"
	"github.com/e4s-project/e4s-cl/internal/library"
	"github.com/e4s-project/e4s-cl/internal/runctx"
	"github.com/e4s-project/e4s-cl/pkg/types"
)

// ErrNoCommand is returned when the request has nothing to execute.
var ErrNoCommand = errors.New("no command given")

type (
	// Request is the user input of one execution.
	Request struct {
		// Files are bound read-write at their own path.
		Files []string
		// Libraries seed the host library set to import.
		Libraries []string
		// Source is a script sourced before the command.
		Source  string
		Command []string
		// Debug traces the entry script.
		Debug bool
	}

	// Result describes a finished execution.
	Result struct {
		ExitCode types.ExitCode
		// Decision is meaningful only when Libraries is not nil.
		Decision compat.Decision
		// Libraries is the imported set, nil when no library was requested.
		Libraries *library.Set
		// Invocation is the backend command line, set for dry runs.
		Invocation []string
	}

	// Resolver discovers the transitive library set of seed files.
	Resolver interface {
		CreateFrom(ctx context.Context, seeds []string) (*library.Set, error)
	}

	// HostLibcFunc returns the release of the host C runtime.
	HostLibcFunc func() (*semver.Version, error)

	// Pipeline wires the resolver, the selector and a container together.
	Pipeline struct {
		rc       *runctx.Context
		resolver Resolver
		hostLibc HostLibcFunc
	}
)

// New creates a Pipeline. hostLibc is only called when libraries are requested.
func New(rc *runctx.Context, resolver Resolver, hostLibc HostLibcFunc) *Pipeline {
	return &Pipeline{rc: rc, resolver: resolver, hostLibc: hostLibc}
}

// Run executes req in c and takes ownership of c: it is closed before Run
// returns. The child's exit code is returned in Result; err is set only for
// failures of the launcher itself, in which case the code is
// types.ExitInternalError.
func (p *Pipeline) Run(ctx context.Context, c container.Container, req Request) (res Result, err error) {
	log := p.rc.Log()
	res.ExitCode = types.ExitInternalError

	defer func() {
		if cerr := c.Close(); cerr != nil {
			log.Warn("release container resources", "error", cerr)
		}
	}()

	if len(req.Command) == 0 {
		return res, ErrNoCommand
	}

	selection, err := p.decide(ctx, c, req.Libraries)
	if err != nil {
		return res, err
	}

	// Nothing below runs unless every decision above succeeded.
	for _, f := range req.Files {
		if err := c.BindFile(f, container.As(container.ReadWrite)); err != nil {
			return res, bindFailure(f, err)
		}
	}
	if req.Source != "" {
		if err := c.BindFile(req.Source); err != nil {
			return res, bindFailure(req.Source, err)
		}
	}

	entry := &entrypoint.Entrypoint{
		SourceScriptPath: req.Source,
		Command:          req.Command,
		LibraryDir:       c.ImportDir(),
		Debug:            req.Debug,
	}
	defer func() {
		if terr := entry.Teardown(); terr != nil {
			log.Warn("remove entry script", "error", terr)
		}
	}()

	if selection != nil {
		res.Decision = selection.Decision
		res.Libraries = selection.Libraries
		if err := p.apply(c, entry, selection); err != nil {
			return res, err
		}
	}

	script, err := entry.Setup()
	if err != nil {
		return res, err
	}
	if err := c.BindFile(script, container.To(c.ScriptPath())); err != nil {
		return res, bindFailure(script, err)
	}

	command := []string{c.ScriptPath()}
	if p.rc.IsDryRun() {
		invocation, err := c.Invocation(command)
		if err != nil {
			return res, err
		}
		log.Info("dry run", "backend", c.Kind(), "image", c.Image(), "command", container.ShellJoin(invocation))
		res.Invocation = invocation
		res.ExitCode = types.ExitSuccess
		return res, nil
	}

	code, err := c.Run(ctx, command)
	res.ExitCode = code
	if err != nil {
		return res, err
	}
	if !code.IsSuccess() {
		log.Error("container command failed", "exit_code", code)
	}
	return res, nil
}

// decide resolves the libraries and chooses how to import them. It does not
// touch the container's bindings. A nil selection means no library was
// requested.
func (p *Pipeline) decide(ctx context.Context, c container.Container, seeds []string) (*compat.Selection, error) {
	if len(seeds) == 0 {
		return nil, nil
	}
	log := p.rc.Log()

	set, err := p.resolver.CreateFrom(ctx, seeds)
	if err != nil {
		return nil, resolutionFailure(err)
	}
	if set.Len() == 0 {
		return nil, nil
	}

	if err := c.GetData(ctx); err != nil {
		return nil, err
	}
	host, err := p.hostLibc()
	if err != nil {
		return nil, resolutionFailure(err)
	}

	selection, err := compat.Select(set, host, c.GuestLibcVersion(), c.ImportDir())
	if err != nil {
		return nil, resolutionFailure(err)
	}
	log.Debug("compatibility decision",
		"host_libc", host, "guest_libc", c.GuestLibcVersion(), "decision", selection.Decision)
	for _, line := range selection.Libraries.LDDFormat() {
		log.Debug(line)
	}
	return &selection, nil
}

// apply binds the selected libraries and fills the entrypoint accordingly.
func (p *Pipeline) apply(c container.Container, entry *entrypoint.Entrypoint, s *compat.Selection) error {
	if s.Decision == compat.Overlay {
		if err := c.BindFile(s.LinkerSource.CanonicalPath, container.To(s.LinkerOverride)); err != nil {
			return bindFailure(s.LinkerSource.CanonicalPath, err)
		}
		entry.LinkerOverride = s.LinkerOverride
	}

	for _, lib := range s.Libraries.Libraries() {
		if err := entrypoint.ImportLibrary(c, lib); err != nil {
			return bindFailure(lib.CanonicalPath, err)
		}
	}
	for _, lib := range s.Libraries.TopLevel().Libraries() {
		entry.Preload = append(entry.Preload, entrypoint.ImportPath(c.ImportDir(), lib))
	}
	return nil
}

func resolutionFailure(err error) error {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return err
	}

	ctx := issue.NewErrorContext().WithOperation("resolve host libraries").Wrap(err)
	var ambiguous *library.AmbiguousLinkerError
	var resolution *library.ResolutionError
	switch {
	case errors.As(err, &ambiguous):
		ctx.WithIssue(issue.AmbiguousLinkerId).
			WithSuggestion("Request libraries built against a single C runtime")
	case errors.As(err, &resolution):
		ctx.WithResource(resolution.Path).
			WithIssue(issue.LibraryResolutionFailedId).
			WithSuggestion("Check that every --libraries entry is an existing shared object")
	default:
		ctx.WithIssue(issue.LibraryResolutionFailedId)
	}
	return ctx.BuildError()
}

func bindFailure(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("bind file").
		WithResource(path).
		WithSuggestion("Check that the file exists and is readable").
		Wrap(fmt.Errorf("bind %s: %w", path, err)).
		BuildError()
}
