// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	appexec "github.com/e4s-project/e4s-cl/internal/app/execute"
	"github.com/e4s-project/e4s-cl/internal/compat"
	"github.com/e4s-project/e4s-cl/internal/container"
	"github.com/e4s-project/e4s-cl/internal/issue"
	"github.com/e4s-project/e4s-cl/internal/library"
)

type executeFlags struct {
	backend   string
	image     string
	files     []string
	libraries []string
	source    string
	dryRun    bool
}

func newExecuteCommand(app *App, global *globalFlags) *cobra.Command {
	flags := &executeFlags{}
	cmd := &cobra.Command{
		Use:   "execute [flags] <command> [args...]",
		Short: "Execute a command in a container with host libraries imported",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runExecute(cmd, global, flags, args)
		},
	}
	// Everything after the command name belongs to the command.
	cmd.Flags().SetInterspersed(false)

	cmd.Flags().StringVar(&flags.backend, "backend", "", "container backend (docker, podman, singularity, apptainer, shifter)")
	cmd.Flags().StringVar(&flags.image, "image", "", "container image")
	cmd.Flags().StringSliceVar(&flags.files, "files", nil, "comma-separated files to bind read-write")
	cmd.Flags().StringSliceVar(&flags.libraries, "libraries", nil, "comma-separated host libraries to import")
	cmd.Flags().StringVar(&flags.source, "source", "", "script sourced before the command")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "print the container invocation without running it")
	return cmd
}

func (a *App) runExecute(cmd *cobra.Command, global *globalFlags, flags *executeFlags, args []string) error {
	ctx := cmd.Context()
	s, release, err := a.open(ctx, global, flags.dryRun)
	if err != nil {
		return err
	}
	defer release()

	kind, image, err := target(s, flags.backend, flags.image)
	if err != nil {
		return a.fail(s, err)
	}
	c, err := a.NewContainer(kind, image, a.containerOptions(s)...)
	if err != nil {
		return a.fail(s, err)
	}

	resolver := library.NewResolver(library.WithRunContext(s.rc))
	pipeline := appexec.New(s.rc, resolver, func() (*semver.Version, error) {
		return compat.HostLibcVersion(resolver)
	})
	res, err := pipeline.Run(ctx, c, appexec.Request{
		Files:     flags.files,
		Libraries: flags.libraries,
		Source:    flags.source,
		Command:   args,
		Debug:     s.verbose,
	})
	if err != nil {
		return a.fail(s, err)
	}

	if s.rc.IsDryRun() {
		renderDryRun(a.stdout, c, res)
		return nil
	}
	if !res.ExitCode.IsSuccess() {
		return &ExitError{Code: res.ExitCode}
	}
	return nil
}

// target picks the backend and image from the flags, falling back to the
// configuration.
func target(s *session, backend, image string) (container.Kind, string, error) {
	kind := s.cfg.Backend
	if backend != "" {
		kind = container.Kind(backend)
	}
	if kind == "" {
		return "", "", issue.NewErrorContext().
			WithOperation("select container backend").
			WithIssue(issue.BackendUnavailableId).
			WithSuggestion("Pass --backend or set backend in the configuration file").
			Wrap(container.ErrUnknownBackend).
			BuildError()
	}
	kind, err := container.ParseKind(string(kind))
	if err != nil {
		return "", "", issue.NewErrorContext().
			WithOperation("select container backend").
			WithResource(backend).
			WithIssue(issue.BackendUnavailableId).
			WithSuggestion("Use one of: docker, podman, singularity, apptainer, shifter").
			Wrap(err).
			BuildError()
	}
	if image == "" {
		image = s.cfg.Image
	}
	return kind, image, nil
}
