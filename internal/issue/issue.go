// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

const (
	// LibraryResolutionFailedId is raised when a required library cannot be analyzed.
	LibraryResolutionFailedId Id = iota + 1
	// AmbiguousLinkerId is raised when the library closure holds zero or several loaders.
	AmbiguousLinkerId
	// BackendUnavailableId is raised when the container technology cannot be used.
	BackendUnavailableId
	// GuestIntrospectionFailedId is raised when the image's C runtime cannot be identified.
	GuestIntrospectionFailedId
	// EntrypointGenerationFailedId is raised when the launch script cannot be written.
	EntrypointGenerationFailedId
	// ConfigLoadFailedId is raised when the configuration file is invalid.
	ConfigLoadFailedId
)

type (
	// Id identifies a catalog entry.
	Id int

	// MarkdownMsg is the Markdown body of a catalog entry.
	MarkdownMsg string

	// HttpLink is an external reference attached to a catalog entry.
	HttpLink string

	// Issue is a catalog entry describing a failure class and how to get past it.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

// Id returns the catalog identifier.
func (i *Issue) Id() Id {
	return i.id
}

// MarkdownMsg returns the raw Markdown body.
func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

// DocLinks returns a copy of the documentation links.
func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

// ExtLinks returns a copy of the external links.
func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the entry for a terminal using the given glamour style
// ("auto", "dark", "light", "notty" or a path to a JSON style).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
		for _, link := range i.extLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	libraryResolutionFailedIssue = &Issue{
		id: LibraryResolutionFailedId,
		mdMsg: `
# A required library could not be analyzed

Every path given to ` + "`--libraries`" + ` must exist on the host and be a dynamically
linked ELF object. Nothing was bound into the container.

## Things you can try
- Check the path, and that it is not a linker script (` + "`file <path>`" + `)
- Point to the versioned file (e.g. ` + "`libmpi.so.40`" + `) rather than a development symlink
- Run ` + "`e4s-cl libs <path>`" + ` to see how the dependency tree resolves`,
		docLinks: []HttpLink{"https://e4s-project.github.io/e4s-cl/"},
	}

	ambiguousLinkerIssue = &Issue{
		id: AmbiguousLinkerId,
		mdMsg: `
# The libraries do not agree on a dynamic loader

The host C runtime must be imported together with exactly one dynamic loader, but the
dependency closure of the requested libraries references none or several distinct ones.
Mixing loaders from different C runtime builds is not supported.

## Things you can try
- Make sure every library comes from the same system or module environment
- Inspect the closure with ` + "`e4s-cl libs <paths...>`" + ` and look for duplicated ` + "`ld-linux`" + ` entries
- Unset ` + "`LD_LIBRARY_PATH`" + ` entries pointing at foreign sysroots`,
	}

	backendUnavailableIssue = &Issue{
		id: BackendUnavailableId,
		mdMsg: `
# The container backend cannot be used

The selected container technology is unknown, not installed, or refused to start the image.

## Things you can try
- List the supported backends with ` + "`e4s-cl execute --help`" + `
- Check that the backend binary is in your PATH (` + "`command -v singularity`" + `)
- Verify the image reference is reachable from this node`,
	}

	guestIntrospectionFailedIssue = &Issue{
		id: GuestIntrospectionFailedId,
		mdMsg: `
# The image's C runtime could not be identified

Before importing host libraries the image is probed with ` + "`ldd --version`" + ` to compare C
runtime versions. The probe failed or did not report a GNU C library.

## Things you can try
- Use an image based on a glibc distribution (musl based images are not supported)
- Run ` + "`ldd --version`" + ` inside the image by hand to see the error`,
	}

	entrypointGenerationFailedIssue = &Issue{
		id: EntrypointGenerationFailedId,
		mdMsg: `
# The launch script could not be generated

The command is wrapped in a small shell script bound into the container.

## Things you can try
- Check that ` + "`$TMPDIR`" + ` is writable
- Check the command arguments for unprintable characters`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# The configuration file is invalid

## Things you can try
- Check the file against the options listed by ` + "`e4s-cl --help`" + `
- Move the file away to fall back to the defaults`,
	}

	issues = map[Id]*Issue{
		libraryResolutionFailedIssue.Id():    libraryResolutionFailedIssue,
		ambiguousLinkerIssue.Id():            ambiguousLinkerIssue,
		backendUnavailableIssue.Id():         backendUnavailableIssue,
		guestIntrospectionFailedIssue.Id():   guestIntrospectionFailedIssue,
		entrypointGenerationFailedIssue.Id(): entrypointGenerationFailedIssue,
		configLoadFailedIssue.Id():           configLoadFailedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int {
		return int(a.id) - int(b.id)
	})
}

// Get returns the catalog entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
