// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	appexec "github.com/e4s-project/e4s-cl/internal/app/execute"
	"github.com/e4s-project/e4s-cl/internal/container"
	"github.com/e4s-project/e4s-cl/internal/library"
)

// renderDryRun prints what execute would have run.
func renderDryRun(w io.Writer, c container.Container, res appexec.Result) {
	fmt.Fprintln(w, TitleStyle.Render("Dry Run"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", LabelStyle.Render("Backend:"), c.Kind())
	fmt.Fprintf(w, "  %s %s\n", LabelStyle.Render("Image:"), c.Image())
	if res.Libraries != nil {
		fmt.Fprintf(w, "  %s %s (%d libraries)\n", LabelStyle.Render("Import:"), res.Decision, res.Libraries.Len())
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, LabelStyle.Render("  Bindings:"))
	for _, b := range c.Bound() {
		fmt.Fprintf(w, "    %s %s -> %s\n", SubtitleStyle.Render(b.Option.String()), b.Source, b.Dest)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, LabelStyle.Render("  Command:"))
	fmt.Fprintln(w, CmdStyle.Render(container.ShellJoin(res.Invocation)))
}

// renderLibraries prints a library set the way ldd does, flagging the C
// runtime members and the roots that would be preloaded.
func renderLibraries(w io.Writer, set *library.Set) {
	fmt.Fprintln(w, TitleStyle.Render("Libraries"))
	top := set.TopLevel()
	lines := set.LDDFormat()
	for i, lib := range set.Libraries() {
		var tags []string
		if _, ok := top.Get(lib.CanonicalPath); ok {
			tags = append(tags, "preload")
		}
		if lib.IsLinker {
			tags = append(tags, "loader")
		} else if lib.IsLibcFamily {
			tags = append(tags, "libc")
		}
		line := "  " + lines[i]
		for _, tag := range tags {
			line += " " + WarningStyle.Render("["+tag+"]")
		}
		fmt.Fprintln(w, line)
	}
}
