// SPDX-License-Identifier: MPL-2.0

package container

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// singularityBackend renders singularity and apptainer command lines:
//
//	exec -B src:dst[:ro] image command...
//
// Environment overrides travel in the tool's own environment under envPrefix,
// which the runtime strips when populating the container.
type singularityBackend struct {
	envPrefix string
}

func (b *singularityBackend) arguments(image string, mounts []specs.Mount, env []EnvVar, command []string) ([]string, []string, error) {
	args := []string{"exec"}
	for _, m := range mounts {
		bind := m.Source + ":" + m.Destination
		if IsReadOnly(m) {
			bind += ":ro"
		}
		args = append(args, "-B", bind)
	}
	args = append(args, image)

	var procEnv []string
	for _, e := range env {
		procEnv = append(procEnv, b.envPrefix+e.Name+"="+e.Value)
	}
	return append(args, command...), procEnv, nil
}

func (b *singularityBackend) close() error { return nil }
