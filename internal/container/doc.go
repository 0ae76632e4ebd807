// SPDX-License-Identifier: MPL-2.0

// Package container launches a command in a container image through one of
// the supported container technologies.
//
// An Instance lives for a single execution. It records file bindings in an
// append-only Ledger and environment overrides, introspects the image's C
// runtime once (GetData), and realizes everything into the command line of
// the selected backend when Run is called. Backends form a closed set: docker,
// podman, singularity, apptainer and shifter.
package container
