// SPDX-License-Identifier: MPL-2.0

// Package execute runs one containerized command with host libraries
// imported. Every decision (library resolution, guest introspection and
// the compatibility choice) is final before the container is configured,
// and the generated entry script and backend resources are released on
// every exit path.
package execute
