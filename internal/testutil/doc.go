// SPDX-License-Identifier: MPL-2.0

// Package testutil provides fixture helpers shared by the launcher tests.
// Helpers fail the test immediately on error so call sites stay flat.
//
// Most tests build small fake library trees: TempDir returns a directory with
// symlinks resolved, and MustWriteFile and MustSymlink populate it.
package testutil
