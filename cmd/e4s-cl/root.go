// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	global := &globalFlags{}
	root := &cobra.Command{
		Use:   "e4s-cl",
		Short: "Run containerized programs with host libraries",
		Long: TitleStyle.Render("e4s-cl") + SubtitleStyle.Render(" - run containerized programs with host libraries") + `

e4s-cl launches a command inside a container image after importing a set
of host shared libraries, typically the host MPI stack. It compares the
host and container C runtimes and either imports the host runtime along
with its loader, or keeps the container's and imports everything else.

` + SubtitleStyle.Render("Examples:") + `
  e4s-cl execute --backend singularity --image e4s.sif \
    --libraries /opt/mpich/lib/libmpi.so.12 ./a.out
  e4s-cl libs /opt/mpich/lib/libmpi.so.12`,
		SilenceUsage: true,
	}
	root.SetIn(app.stdin)
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	root.PersistentFlags().BoolVarP(&global.verbose, "verbose", "v", false, "enable debug output")
	root.PersistentFlags().StringVar(&global.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/e4s-cl/config.cue)")

	root.AddCommand(newExecuteCommand(app, global))
	root.AddCommand(newLibsCommand(app, global))
	root.AddCommand(newVersionCommand(app))
	return root
}

// handleError prints errors not yet reported by a command handler.
func handleError(w io.Writer, styles fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return
	}
	fang.DefaultErrorHandler(w, styles, err)
}

// Execute runs the command line and exits with the resulting code.
func Execute() {
	root := NewRootCommand(NewApp(Dependencies{}))
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
		fang.WithErrorHandler(handleError),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}
