// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// ActionableError carries the failed operation, the resource involved and a list of
// remediation hints. Fatal launcher failures (library resolution, loader ambiguity,
// unusable container backends) additionally reference an Issue from the catalog, a
// Markdown page rendered with glamour when the error reaches the terminal.
package issue
