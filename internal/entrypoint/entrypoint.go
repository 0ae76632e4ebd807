// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/e4s-project/e4s-cl/internal/container"
	"github.com/e4s-project/e4s-cl/internal/issue"
	"github.com/e4s-project/e4s-cl/internal/library"
)

// ErrEmptyCommand is returned by Setup when there is nothing to execute.
var ErrEmptyCommand = errors.New("no command to execute")

const (
	overlayNeedsFile = "not an executable file, the host loader can only run programs"
	// notExecutable is the exit status of the script when the command
	// cannot be run through the loader, as for a shell command not found.
	notExecutable = 127
)

type (
	// Binder is the part of a container the importer needs.
	Binder interface {
		BindFile(source string, opts ...container.BindOption) error
		ImportDir() string
	}

	// Entrypoint describes the generated entry script.
	Entrypoint struct {
		// SourceScriptPath is sourced before the command when set.
		SourceScriptPath string
		Command          []string
		// Preload lists in-container paths forced into every process, in order.
		Preload []string
		// LibraryDir is prepended to the container's library search path.
		LibraryDir string
		// LinkerOverride is the loader running the command. Empty keeps the
		// guest's own loader.
		LinkerOverride string
		// Debug traces the script.
		Debug bool

		scriptPath string
	}
)

// ImportLibrary binds the canonical file of lib and every alias into the
// import directory, each under its own base name. Aliases sharing a base name
// are bound once.
func ImportLibrary(c Binder, lib *library.Library) error {
	dir := c.ImportDir()
	seen := map[string]bool{}
	for _, source := range append([]string{lib.CanonicalPath}, lib.Aliases...) {
		name := filepath.Base(source)
		if seen[name] {
			continue
		}
		seen[name] = true
		if err := c.BindFile(source, container.To(path.Join(dir, name))); err != nil {
			return fmt.Errorf("import %s: %w", lib.Name(), err)
		}
	}
	return nil
}

// ImportPath is where lib's canonical file is bound inside the container.
func ImportPath(importDir string, lib *library.Library) string {
	return path.Join(importDir, lib.Name())
}

// Script renders the entry script.
func (e *Entrypoint) Script() (string, error) {
	if len(e.Command) == 0 {
		return "", ErrEmptyCommand
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	if e.Debug {
		b.WriteString("set -x\n")
	}

	if e.LibraryDir != "" {
		dir, err := quote(e.LibraryDir)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "LD_LIBRARY_PATH=%s${LD_LIBRARY_PATH:+:$LD_LIBRARY_PATH}\nexport LD_LIBRARY_PATH\n", dir)
	}

	if len(e.Preload) > 0 {
		preload, err := quote(strings.Join(e.Preload, ":"))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "LD_PRELOAD=%s${LD_PRELOAD:+:$LD_PRELOAD}\nexport LD_PRELOAD\n", preload)
	}

	if e.SourceScriptPath != "" {
		src, err := quote(e.SourceScriptPath)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, ". %s\n", src)
	}

	args, err := quoteAll(e.Command)
	if err != nil {
		return "", err
	}
	if e.LinkerOverride == "" {
		fmt.Fprintf(&b, "exec %s\n", strings.Join(args, " "))
	} else {
		// The loader does not search PATH and can only load program files:
		// builtins, functions and unknown names are rejected here.
		linker, err := quote(e.LinkerOverride)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "e4s_cl_command=$(command -v %s) || e4s_cl_command=%s\n", args[0], args[0])
		b.WriteString("case $e4s_cl_command in\n*/*) ;;\n")
		fmt.Fprintf(&b, "*) echo \"e4s-cl: $e4s_cl_command: %s\" >&2\n   exit %d ;;\nesac\n", overlayNeedsFile, notExecutable)
		fmt.Fprintf(&b, "exec %s \"$e4s_cl_command\"", linker)
		for _, arg := range args[1:] {
			b.WriteString(" " + arg)
		}
		b.WriteString("\n")
	}

	script := b.String()
	if _, err := syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).Parse(strings.NewReader(script), "entry"); err != nil {
		return "", fmt.Errorf("script syntax error: %w", err)
	}
	return script, nil
}

// Setup writes the entry script to a new executable host file and returns
// its path.
func (e *Entrypoint) Setup() (string, error) {
	script, err := e.Script()
	if err != nil {
		return "", generationFailure("render entry script", err)
	}

	f, err := os.CreateTemp("", "e4s-cl-entry-*.sh")
	if err != nil {
		return "", generationFailure("create entry script", err)
	}
	name := f.Name()
	_, writeErr := f.WriteString(script)
	closeErr := f.Close()
	if err = errors.Join(writeErr, closeErr); err == nil {
		err = os.Chmod(name, 0o755)
	}
	if err != nil {
		_ = os.Remove(name)
		return "", generationFailure("write entry script", err)
	}

	e.scriptPath = name
	return name, nil
}

// ScriptPath returns the host path written by the last Setup.
func (e *Entrypoint) ScriptPath() string { return e.scriptPath }

// Teardown removes the script written by Setup. It may be called any number
// of times, with or without a prior Setup.
func (e *Entrypoint) Teardown() error {
	if e.scriptPath == "" {
		return nil
	}
	err := os.Remove(e.scriptPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove entry script: %w", err)
	}
	e.scriptPath = ""
	return nil
}

func quote(s string) (string, error) {
	q, err := syntax.Quote(s, syntax.LangPOSIX)
	if err != nil {
		return "", fmt.Errorf("quote %q: %w", s, err)
	}
	return q, nil
}

func quoteAll(words []string) ([]string, error) {
	quoted := make([]string, len(words))
	for i, w := range words {
		q, err := quote(w)
		if err != nil {
			return nil, err
		}
		quoted[i] = q
	}
	return quoted, nil
}

func generationFailure(op string, err error) error {
	return issue.NewErrorContext().
		WithOperation(op).
		WithIssue(issue.EntrypointGenerationFailedId).
		WithSuggestion("Check that the temporary directory is writable (TMPDIR)").
		Wrap(err).
		BuildError()
}
