// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/e4s-project/e4s-cl/internal/cache"
	"github.com/e4s-project/e4s-cl/internal/config"
	"github.com/e4s-project/e4s-cl/internal/container"
	"github.com/e4s-project/e4s-cl/internal/issue"
	"github.com/e4s-project/e4s-cl/internal/runctx"
	"github.com/e4s-project/e4s-cl/pkg/types"
)

type (
	// ContainerFactory creates the container of one execution.
	ContainerFactory func(kind container.Kind, image string, opts ...container.Option) (container.Container, error)

	// App wires CLI services and shared dependencies. Every command handler
	// receives it and delegates through its fields.
	App struct {
		Config       config.Provider
		NewContainer ContainerFactory
		stdin        io.Reader
		stdout       io.Writer
		stderr       io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config       config.Provider
		NewContainer ContainerFactory
		Stdin        io.Reader
		Stdout       io.Writer
		Stderr       io.Writer
	}

	// globalFlags are the persistent flags of the root command.
	globalFlags struct {
		verbose    bool
		configPath string
	}
)

// NewApp creates an App, filling unset dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:       deps.Config,
		NewContainer: deps.NewContainer,
		stdin:        deps.Stdin,
		stdout:       deps.Stdout,
		stderr:       deps.Stderr,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.NewContainer == nil {
		app.NewContainer = func(kind container.Kind, image string, opts ...container.Option) (container.Container, error) {
			return container.New(kind, image, opts...)
		}
	}
	if app.stdin == nil {
		app.stdin = os.Stdin
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// session is the loaded configuration and run context of one command.
type session struct {
	cfg     *config.Config
	rc      *runctx.Context
	verbose bool
}

// open loads the configuration and builds the run context. The returned
// function releases the snapshot cache.
func (a *App) open(ctx context.Context, global *globalFlags, dryRun bool) (*session, func(), error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: global.configPath})
	if err != nil {
		a.renderError(newLogger(a.stderr, global.verbose), err, global.verbose)
		return nil, func() {}, &ExitError{Code: types.ExitInternalError, Err: err}
	}

	verbose := global.verbose || cfg.Log.Verbose
	rc := &runctx.Context{Logger: newLogger(a.stderr, verbose), DryRun: dryRun}
	if cfg.Source != "" {
		rc.Log().Debug("configuration loaded", "path", cfg.Source)
	}

	release := func() {}
	if cfg.Cache.Enabled {
		store, err := cache.Open(cfg.Cache.Path)
		if err != nil {
			rc.Log().Warn("library cache disabled", "path", cfg.Cache.Path, "error", err)
		} else {
			rc.Cache = store
			release = func() {
				if err := store.Close(); err != nil {
					rc.Log().Debug("close library cache", "error", err)
				}
			}
		}
	}
	return &session{cfg: cfg, rc: rc, verbose: verbose}, release, nil
}

// containerOptions applies the configuration to a new container.
func (a *App) containerOptions(s *session) []container.Option {
	return []container.Option{
		container.WithRunContext(s.rc),
		container.WithImportDir(s.cfg.ImportDir),
		container.WithScriptPath(s.cfg.ScriptPath),
		container.WithSiteConfig(s.cfg.Shifter.SiteConfig),
		container.WithProcessLogDir(s.cfg.Log.ProcessDir),
		container.WithStdio(a.stdin, a.stdout, a.stderr),
	}
}

// fail reports err and converts it to the internal error exit code.
func (a *App) fail(s *session, err error) error {
	a.renderError(s.rc.Log(), err, s.verbose)
	return &ExitError{Code: types.ExitInternalError, Err: err}
}

// renderError logs err and, for catalogued failures, renders the matching
// troubleshooting entry.
func (a *App) renderError(log *slog.Logger, err error, verbose bool) {
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		log.Error(err.Error())
		return
	}
	log.Error(ae.Format(verbose))
	if entry := ae.CatalogEntry(); entry != nil {
		if rendered, rerr := entry.Render("dark"); rerr == nil {
			fmt.Fprint(a.stderr, rendered)
		}
	}
}
