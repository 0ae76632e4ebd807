// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/e4s-project/e4s-cl/internal/issue"
)

// probeScript prints the first line of `ldd --version` and every dynamic
// loader found in the usual locations of the image.
const probeScript = `printf 'libc: %s\n' "$(ldd --version 2>&1 | head -n 1)"
for l in /lib64/ld-linux*.so* /lib/ld-linux*.so* /lib/*/ld-linux*.so* /lib64/ld64.so* /lib/ld64.so* /usr/lib64/ld-linux*.so*; do
  [ -e "$l" ] && printf 'linker: %s\n' "$l"
done
true`

var trailingVersion = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)\s*$`)

// GetData runs a one-time probe inside the image to learn its C runtime
// release and dynamic loader. Later calls return immediately. Transient
// backend failures are retried.
func (i *Instance) GetData(ctx context.Context) error {
	if i.probed {
		return nil
	}

	args, procEnv, err := i.backend.arguments(i.image, nil, nil, []string{"/bin/sh", "-c", probeScript})
	if err != nil {
		return err
	}

	var stdout bytes.Buffer
	err = RetryWithBackoff(ctx, i.probeAttempts, i.probeBackoff, func(attempt int) (bool, error) {
		stdout.Reset()
		var stderr bytes.Buffer
		cmd := i.execCommand(ctx, i.binary, args...)
		cmd.Env = append(cmd.Environ(), procEnv...)
		cmd.Stdout, cmd.Stderr = &stdout, &stderr

		runErr := cmd.Run()
		if runErr == nil {
			return false, nil
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			runErr = fmt.Errorf("%w: %s", runErr, msg)
		}
		i.rc.Log().Debug("image probe failed", "attempt", attempt+1, "error", runErr)
		return IsTransientError(runErr), runErr
	})
	if err != nil {
		return introspectionFailure(i, err)
	}

	version, linker, err := parseProbe(stdout.String())
	if err != nil {
		return introspectionFailure(i, err)
	}
	i.guestLibc, i.guestLinker, i.probed = version, linker, true
	i.rc.Log().Debug("image probed", "image", i.image, "libc", version, "linker", linker)
	return nil
}

func introspectionFailure(i *Instance, err error) error {
	return issue.NewErrorContext().
		WithOperation("inspect container image").
		WithResource(i.image).
		WithIssue(issue.GuestIntrospectionFailedId).
		WithSuggestion(fmt.Sprintf("Check that `ldd --version` works inside %s", i.image)).
		Wrap(&BackendError{Kind: i.kind, Err: err}).
		BuildError()
}

// parseProbe reads the probe output. The loader is optional; the libc line
// must end with a release number.
func parseProbe(out string) (*semver.Version, string, error) {
	var (
		version *semver.Version
		linker  string
		banner  string
	)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "libc":
			banner = value
			if m := trailingVersion.FindStringSubmatch(value); m != nil {
				if v, err := semver.NewVersion(m[1]); err == nil {
					version = v
				}
			}
		case "linker":
			if linker == "" {
				linker = value
			}
		}
	}
	if version == nil {
		return nil, "", fmt.Errorf("%w (ldd said %q)", ErrNoGuestLibc, banner)
	}
	return version, linker, nil
}
