// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the e4s-cl command line.
//
// The execute command runs a program inside a container with host libraries
// imported; libs prints the library set a list of host libraries resolves to
// and, given an image, how it would be imported.
package cmd
