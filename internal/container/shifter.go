// SPDX-License-Identifier: MPL-2.0

package container

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

type (
	// shifterBackend renders shifter command lines:
	//
	//	--image=image --volume=src:dst[:ro] --env=NAME=VALUE -- command...
	//
	// Shifter only mounts directories. Bound files are hard linked (or
	// copied) into a host staging directory per destination directory, and
	// that directory is mounted instead. Paths the site already mounts in
	// every image are not bound again.
	shifterBackend struct {
		siteMounts []string
		log        *slog.Logger
		stageRoot  string
		stages     map[string]string
	}

	shifterVolume struct {
		source   string
		dest     string
		readOnly bool
	}
)

func newShifterBackend(configPath string, log *slog.Logger) *shifterBackend {
	b := &shifterBackend{log: log, stages: make(map[string]string)}
	cfg, warnings, err := LoadSiteConfig(configPath)
	if err != nil {
		log.Debug("shifter site configuration not read", "path", configPath, "error", err)
		return b
	}
	for _, w := range warnings {
		log.Debug("shifter site configuration", "path", configPath, "warning", w.String())
	}
	b.siteMounts = cfg.SiteMounts()
	return b
}

func (b *shifterBackend) arguments(image string, mounts []specs.Mount, env []EnvVar, command []string) ([]string, []string, error) {
	volumes, err := b.volumes(mounts)
	if err != nil {
		return nil, nil, err
	}

	args := []string{"--image=" + image}
	for _, v := range volumes {
		spec := v.source + ":" + v.dest
		if v.readOnly {
			spec += ":ro"
		}
		args = append(args, "--volume="+spec)
	}
	for _, e := range env {
		args = append(args, "--env="+e.Name+"="+e.Value)
	}
	args = append(args, "--")
	return append(args, command...), nil, nil
}

func (b *shifterBackend) covered(dest string) bool {
	return slices.ContainsFunc(b.siteMounts, func(site string) bool {
		return dest == site || strings.HasPrefix(dest, strings.TrimSuffix(site, "/")+"/")
	})
}

func (b *shifterBackend) volumes(mounts []specs.Mount) ([]shifterVolume, error) {
	var (
		volumes []shifterVolume
		groups  []string
		files   = make(map[string][]specs.Mount)
	)
	for _, m := range mounts {
		if b.covered(m.Destination) {
			b.log.Debug("skipping bind covered by site configuration", "dest", m.Destination)
			continue
		}
		st, err := os.Stat(m.Source)
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", m.Source, err)
		}
		if st.IsDir() {
			volumes = append(volumes, shifterVolume{source: m.Source, dest: m.Destination, readOnly: IsReadOnly(m)})
			continue
		}
		dir := filepath.Dir(m.Destination)
		if _, ok := files[dir]; !ok {
			groups = append(groups, dir)
		}
		files[dir] = append(files[dir], m)
	}

	for _, dir := range groups {
		stage, err := b.stage(dir)
		if err != nil {
			return nil, err
		}
		readOnly := true
		for _, m := range files[dir] {
			if err := linkOrCopy(m.Source, filepath.Join(stage, filepath.Base(m.Destination))); err != nil {
				return nil, fmt.Errorf("stage %s: %w", m.Source, err)
			}
			readOnly = readOnly && IsReadOnly(m)
		}
		// Mount points for nested groups.
		for _, other := range groups {
			if rel, err := filepath.Rel(dir, other); err == nil && other != dir && !strings.HasPrefix(rel, "..") {
				if err := os.MkdirAll(filepath.Join(stage, rel), 0o755); err != nil {
					return nil, err
				}
			}
		}
		volumes = append(volumes, shifterVolume{source: stage, dest: dir, readOnly: readOnly})
	}

	slices.SortStableFunc(volumes, func(x, y shifterVolume) int {
		return strings.Count(x.dest, "/") - strings.Count(y.dest, "/")
	})
	return volumes, nil
}

// stage returns the host directory standing for the container directory dest.
func (b *shifterBackend) stage(dest string) (string, error) {
	if dir, ok := b.stages[dest]; ok {
		return dir, nil
	}
	if b.stageRoot == "" {
		root, err := os.MkdirTemp("", "e4s-cl-shifter-*")
		if err != nil {
			return "", fmt.Errorf("create shifter staging directory: %w", err)
		}
		b.stageRoot = root
	}
	dir := filepath.Join(b.stageRoot, fmt.Sprintf("%d", len(b.stages)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	b.stages[dest] = dir
	return dir, nil
}

func (b *shifterBackend) close() error {
	if b.stageRoot == "" {
		return nil
	}
	err := os.RemoveAll(b.stageRoot)
	b.stageRoot = ""
	clear(b.stages)
	return err
}

func linkOrCopy(src, dst string) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, st.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
