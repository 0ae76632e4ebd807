// SPDX-License-Identifier: MPL-2.0

// Package library models host shared objects and discovers their transitive
// dependencies the way the dynamic loader would, without running ldd.
//
// A Set is built once per execution by a Resolver from a list of seed paths.
// Every member is keyed by its canonical path; discovering the same file under
// another name only extends its alias list. Views (Glib, Linkers, TopLevel)
// derive the subsets the compatibility selector and the entrypoint need.
package library
