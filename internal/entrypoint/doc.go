// SPDX-License-Identifier: MPL-2.0

// Package entrypoint generates the script executed as the container's primary
// process and imports host libraries into the container's library directory.
//
// The script exports the library search path and preload list, optionally
// sources a user script, then replaces itself with the command, run through
// the host loader when the C runtime is overlaid.
package entrypoint
