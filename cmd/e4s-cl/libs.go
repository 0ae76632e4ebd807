// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/e4s-project/e4s-cl/internal/compat"
	"github.com/e4s-project/e4s-cl/internal/library"
)

type libsFlags struct {
	backend string
	image   string
}

func newLibsCommand(app *App, global *globalFlags) *cobra.Command {
	flags := &libsFlags{}
	cmd := &cobra.Command{
		Use:   "libs [flags] <library>...",
		Short: "Show the host libraries a set of libraries resolves to",
		Long: `Resolve the transitive dependencies of host libraries and print them.

With --image, the container's C runtime is inspected and the import
decision execute would take is printed as well.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runLibs(cmd, global, flags, args)
		},
	}
	cmd.Flags().StringVar(&flags.backend, "backend", "", "container backend used with --image")
	cmd.Flags().StringVar(&flags.image, "image", "", "container image to compare against")
	return cmd
}

func (a *App) runLibs(cmd *cobra.Command, global *globalFlags, flags *libsFlags, args []string) error {
	ctx := cmd.Context()
	s, release, err := a.open(ctx, global, false)
	if err != nil {
		return err
	}
	defer release()

	resolver := library.NewResolver(library.WithRunContext(s.rc))
	set, err := resolver.CreateFrom(ctx, args)
	if err != nil {
		return a.fail(s, err)
	}
	renderLibraries(a.stdout, set)

	image := flags.image
	if image == "" && flags.backend == "" {
		return nil
	}
	kind, image, err := target(s, flags.backend, image)
	if err != nil {
		return a.fail(s, err)
	}
	c, err := a.NewContainer(kind, image, a.containerOptions(s)...)
	if err != nil {
		return a.fail(s, err)
	}
	defer c.Close()

	if err := c.GetData(ctx); err != nil {
		return a.fail(s, err)
	}
	host, err := compat.HostLibcVersion(resolver)
	if err != nil {
		return a.fail(s, err)
	}
	selection, err := compat.Select(set, host, c.GuestLibcVersion(), c.ImportDir())
	if err != nil {
		return a.fail(s, err)
	}

	fmt.Fprintln(a.stdout)
	fmt.Fprintf(a.stdout, "  %s %s\n", LabelStyle.Render("Host C runtime:"), host)
	fmt.Fprintf(a.stdout, "  %s %s\n", LabelStyle.Render("Guest C runtime:"), c.GuestLibcVersion())
	fmt.Fprintf(a.stdout, "  %s %s (%d of %d libraries imported)\n",
		LabelStyle.Render("Decision:"), SuccessStyle.Render(selection.Decision.String()),
		selection.Libraries.Len(), set.Len())
	if selection.LinkerOverride != "" {
		fmt.Fprintf(a.stdout, "  %s %s\n", LabelStyle.Render("Loader:"), selection.LinkerOverride)
	}
	return nil
}
