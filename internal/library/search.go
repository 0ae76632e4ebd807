// SPDX-License-Identifier: MPL-2.0

package library

import (
	"bufio"
	"debug/elf"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultLdSoConf is the loader configuration read for system directories.
const DefaultLdSoConf = "/etc/ld.so.conf"

var multiarch = map[elf.Machine]string{
	elf.EM_X86_64:  "x86_64-linux-gnu",
	elf.EM_386:     "i386-linux-gnu",
	elf.EM_AARCH64: "aarch64-linux-gnu",
	elf.EM_PPC64:   "powerpc64le-linux-gnu",
	elf.EM_RISCV:   "riscv64-linux-gnu",
}

// defaultDirs returns the trusted directories searched after ld.so.conf entries.
func defaultDirs(class elf.Class, machine elf.Machine) []string {
	var dirs []string
	if class == elf.ELFCLASS64 {
		dirs = append(dirs, "/lib64", "/usr/lib64")
	}
	if triplet, ok := multiarch[machine]; ok {
		dirs = append(dirs, "/lib/"+triplet, "/usr/lib/"+triplet)
	}
	return append(dirs, "/lib", "/usr/lib")
}

// ReadLdSoConf returns the directories listed in an ld.so.conf file, following
// include directives. Missing files yield no directories.
func ReadLdSoConf(path string) []string {
	var dirs []string
	readLdSoConf(path, map[string]bool{}, &dirs)
	return dirs
}

func readLdSoConf(path string, seen map[string]bool, dirs *[]string) {
	if seen[path] {
		return
	}
	seen[path] = true

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ':' || r == ','
		})
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "include":
			for _, pattern := range fields[1:] {
				if !filepath.IsAbs(pattern) {
					pattern = filepath.Join(filepath.Dir(path), pattern)
				}
				matches, _ := filepath.Glob(pattern)
				for _, m := range matches {
					readLdSoConf(m, seen, dirs)
				}
			}
		case "hwcap":
		default:
			for _, dir := range fields {
				if filepath.IsAbs(dir) {
					*dirs = appendUnique(*dirs, filepath.Clean(dir))
				}
			}
		}
	}
}

// expandOrigin substitutes the dynamic string tokens the loader understands in
// DT_RUNPATH and DT_RPATH entries.
func expandOrigin(entry, origin string, class elf.Class) string {
	lib := "lib"
	if class == elf.ELFCLASS64 {
		lib = "lib64"
	}
	r := strings.NewReplacer(
		"${ORIGIN}", origin, "$ORIGIN", origin,
		"${LIB}", lib, "$LIB", lib,
	)
	return r.Replace(entry)
}

func splitPathList(value string) []string {
	var dirs []string
	for _, d := range filepath.SplitList(value) {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(list, v) {
			list = append(list, v)
		}
	}
	return list
}
