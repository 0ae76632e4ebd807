// SPDX-License-Identifier: MPL-2.0

package container

import (
	"os"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// selinuxEnforce is the SELinux status file read before labeling podman volumes.
var selinuxEnforce = "/sys/fs/selinux/enforce"

// dockerBackend renders docker and podman command lines:
//
//	run --rm -v src:dst[:ro] -e NAME=VALUE image command...
type dockerBackend struct {
	labelVolume func(string) string
}

func (b *dockerBackend) arguments(image string, mounts []specs.Mount, env []EnvVar, command []string) ([]string, []string, error) {
	args := []string{"run", "--rm"}
	for _, m := range mounts {
		volume := m.Source + ":" + m.Destination
		if IsReadOnly(m) {
			volume += ":ro"
		}
		if b.labelVolume != nil {
			volume = b.labelVolume(volume)
		}
		args = append(args, "-v", volume)
	}
	for _, e := range env {
		args = append(args, "-e", e.Name+"="+e.Value)
	}
	args = append(args, image)
	return append(args, command...), nil, nil
}

func (b *dockerBackend) close() error { return nil }

func isSELinuxEnabled() bool {
	data, err := os.ReadFile(selinuxEnforce)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

// addSELinuxLabel appends the shared :z label to a host:container[:options]
// volume when SELinux is enforcing and no label is present.
func addSELinuxLabel(volume string) string {
	if !isSELinuxEnabled() {
		return volume
	}

	parts := strings.Split(volume, ":")
	if len(parts) < 2 {
		return volume
	}
	if len(parts) >= 3 {
		for opt := range strings.SplitSeq(parts[len(parts)-1], ",") {
			if opt == "z" || opt == "Z" {
				return volume
			}
		}
		return volume + ",z"
	}
	return volume + ":z"
}
