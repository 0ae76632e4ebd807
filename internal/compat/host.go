// SPDX-License-Identifier: MPL-2.0

package compat

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/e4s-project/e4s-cl/internal/library"
)

// HostLibcVersion returns the release of the host C runtime found through the
// resolver's search path.
func HostLibcVersion(r *library.Resolver) (*semver.Version, error) {
	libc, err := r.Locate("libc.so.6")
	if err != nil {
		return nil, fmt.Errorf("locate host C runtime: %w", err)
	}
	v, err := library.LibcVersion(libc)
	if err != nil {
		return nil, fmt.Errorf("read host C runtime version: %w", err)
	}
	return v, nil
}
