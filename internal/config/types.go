// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/e4s-project/e4s-cl/internal/container"
)

// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid config")

type (
	// Config is the complete launcher configuration.
	Config struct {
		// Backend is the default container technology. Empty means it must
		// be given on the command line.
		Backend    container.Kind `json:"backend" mapstructure:"backend"`
		Image      string         `json:"image" mapstructure:"image"`
		ImportDir  string         `json:"import_dir" mapstructure:"import_dir"`
		ScriptPath string         `json:"script_path" mapstructure:"script_path"`
		Cache      CacheConfig    `json:"cache" mapstructure:"cache"`
		Shifter    ShifterConfig  `json:"shifter" mapstructure:"shifter"`
		Log        LogConfig      `json:"log" mapstructure:"log"`

		// Source is the file the configuration was read from, empty when
		// only defaults and the environment apply.
		Source string `json:"-" mapstructure:"-"`
	}

	// CacheConfig controls the library set snapshot cache.
	CacheConfig struct {
		Enabled bool   `json:"enabled" mapstructure:"enabled"`
		Path    string `json:"path" mapstructure:"path"`
	}

	// ShifterConfig holds shifter specific settings.
	ShifterConfig struct {
		SiteConfig string `json:"site_config" mapstructure:"site_config"`
	}

	// LogConfig controls diagnostics.
	LogConfig struct {
		Verbose bool `json:"verbose" mapstructure:"verbose"`
		// ProcessDir receives the full stderr of launched commands. Empty
		// disables process logs.
		ProcessDir string `json:"process_dir" mapstructure:"process_dir"`
	}

	// InvalidConfigError reports every invalid field of a Config.
	// It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig along with the field errors.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// Validate returns an *InvalidConfigError when a field holds a value the
// launcher cannot use.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend != "" {
		if err := c.Backend.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("backend: %w", err))
		}
	}
	if !path.IsAbs(c.ImportDir) {
		errs = append(errs, fmt.Errorf("import_dir: %q is not an absolute container path", c.ImportDir))
	}
	if !path.IsAbs(c.ScriptPath) {
		errs = append(errs, fmt.Errorf("script_path: %q is not an absolute container path", c.ScriptPath))
	}
	if c.Cache.Enabled && c.Cache.Path == "" {
		errs = append(errs, errors.New("cache.path: required when the cache is enabled"))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		ImportDir:  container.DefaultImportDir,
		ScriptPath: container.DefaultScriptPath,
		Cache: CacheConfig{
			Enabled: true,
			Path:    filepath.Join(xdg.CacheHome, AppName, "libraries.db"),
		},
		Shifter: ShifterConfig{
			SiteConfig: container.DefaultSiteConfig,
		},
		Log: LogConfig{
			ProcessDir: filepath.Join(xdg.StateHome, AppName, "logs"),
		},
	}
}
