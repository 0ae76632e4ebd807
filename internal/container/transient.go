// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/e4s-project/e4s-cl/pkg/types"
)

var transientMessages = []string{
	"OCI runtime error",
	"ping_group_range",
	"error creating overlay mount",
	"error mounting layer",
	"Resource temporarily unavailable",
	"could not lock",
}

// IsTransientError reports whether a failed backend call may succeed when
// repeated: engine-level failures (exit codes 125 and 126), rootless runtime
// races and image cache lock contention. Cancellation is never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && types.ExitCode(exitErr.ExitCode()).IsTransient() {
		return true
	}

	msg := err.Error()
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
