// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSiteConfig is the shifter site configuration of most installations.
const DefaultSiteConfig = "/etc/shifter/udiRoot.conf"

type (
	// SiteConfig is a parsed shifter udiRoot.conf.
	SiteConfig struct {
		// Values holds the top-level directives.
		Values map[string]string
		// Modules holds module_<name>_<key> directives as Modules[name][key].
		Modules map[string]map[string]string
	}

	// ParseWarning reports a line that was dropped.
	ParseWarning struct {
		Line int
		Text string
	}
)

func (w ParseWarning) String() string {
	return fmt.Sprintf("line %d: ignoring malformed directive %q", w.Line, w.Text)
}

// ParseSiteConfig reads key=value directives. Lines starting with # are
// comments. A trailing backslash joins the next line, its leading blanks
// removed. Lines without '=' are dropped and reported.
func ParseSiteConfig(r io.Reader) (SiteConfig, []ParseWarning, error) {
	cfg := SiteConfig{
		Values:  make(map[string]string),
		Modules: make(map[string]map[string]string),
	}
	var warnings []ParseWarning

	scanner := bufio.NewScanner(r)
	var (
		pending   strings.Builder
		startLine int
		lineNo    int
	)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if pending.Len() > 0 {
			line = strings.TrimLeft(line, " \t")
		} else {
			startLine = lineNo
			if strings.HasPrefix(strings.TrimSpace(line), "#") {
				continue
			}
		}

		if strings.HasSuffix(line, `\`) {
			pending.WriteString(strings.TrimSuffix(line, `\`))
			continue
		}
		pending.WriteString(line)
		directive := pending.String()
		pending.Reset()

		if strings.TrimSpace(directive) == "" {
			continue
		}
		if w, ok := cfg.add(directive); !ok {
			warnings = append(warnings, ParseWarning{Line: startLine, Text: w})
		}
	}
	if pending.Len() > 0 {
		if w, ok := cfg.add(pending.String()); !ok {
			warnings = append(warnings, ParseWarning{Line: startLine, Text: w})
		}
	}
	return cfg, warnings, scanner.Err()
}

func (c SiteConfig) add(directive string) (string, bool) {
	key, value, ok := strings.Cut(directive, "=")
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if !ok || key == "" {
		return directive, false
	}

	if parts := strings.SplitN(key, "_", 3); len(parts) == 3 && parts[0] == "module" && parts[1] != "" && parts[2] != "" {
		if c.Modules[parts[1]] == nil {
			c.Modules[parts[1]] = make(map[string]string)
		}
		c.Modules[parts[1]][parts[2]] = value
		return "", true
	}
	c.Values[key] = value
	return "", true
}

// LoadSiteConfig parses the file at path.
func LoadSiteConfig(path string) (SiteConfig, []ParseWarning, error) {
	f, err := os.Open(path)
	if err != nil {
		return SiteConfig{}, nil, err
	}
	defer f.Close()
	return ParseSiteConfig(f)
}

// SiteMounts returns the container paths the site mounts in every image,
// read from the siteFs directive ("host:container[:flags];..." or "path;...").
func (c SiteConfig) SiteMounts() []string {
	var dests []string
	for entry := range strings.SplitSeq(c.Values["siteFs"], ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		dest := entry
		if parts := strings.Split(entry, ":"); len(parts) >= 2 {
			dest = parts[1]
		}
		dests = append(dests, filepath.Clean(dest))
	}
	return dests
}
