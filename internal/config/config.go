// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/e4s-project/e4s-cl/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "e4s-cl"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes the environment overrides, E4S_CL_IMAGE for image.
	EnvPrefix = "E4S_CL"

	maxFileSize = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// Dir returns the configuration directory, $XDG_CONFIG_HOME/e4s-cl.
func Dir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Load reads the configuration with default options.
func Load(ctx context.Context) (*Config, error) {
	return loadWithOptions(ctx, LoadOptions{})
}

func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	source := opts.ConfigFilePath
	if source != "" {
		if !fileExists(source) {
			return nil, loadFailure(source, fmt.Errorf("config file not found: %s", source),
				"Verify the file path is correct")
		}
	} else {
		dir := opts.ConfigDirPath
		if dir == "" {
			dir = Dir()
		}
		if candidate := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt); fileExists(candidate) {
			source = candidate
		}
	}

	if source != "" {
		if err := loadCUEIntoViper(v, source); err != nil {
			return nil, loadFailure(source, err,
				"Check that the file contains valid CUE syntax",
				"Verify the configuration values match the expected schema")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Source = source

	if err := cfg.Validate(); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(source).
			WithIssue(issue.ConfigLoadFailedId).
			WithSuggestion("Check the E4S_CL_* environment variables").
			Wrap(err).
			BuildError()
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("backend", string(d.Backend))
	v.SetDefault("image", d.Image)
	v.SetDefault("import_dir", d.ImportDir)
	v.SetDefault("script_path", d.ScriptPath)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("shifter.site_config", d.Shifter.SiteConfig)
	v.SetDefault("log.verbose", d.Log.Verbose)
	v.SetDefault("log.process_dir", d.Log.ProcessDir)
}

// loadCUEIntoViper validates the file against #Config and merges it into v.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxFileSize {
		return fmt.Errorf("%s: file size %d exceeds the %d byte limit", path, len(data), maxFileSize)
	}

	ctx := cuecontext.New()
	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return formatCUEError(userValue.Err(), path)
	}

	unified := schemaValue.LookupPath(cue.ParsePath("#Config")).Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return formatCUEError(err, path)
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// formatCUEError prefixes every CUE error with the file and the dotted path
// of the offending field.
func formatCUEError(err error, file string) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return fmt.Errorf("%s: %w", file, err)
	}

	lines := make([]string, 0, len(list))
	for _, e := range list {
		msg := e.Error()
		if p := strings.Join(cueerrors.Path(e), "."); p != "" {
			msg = p + ": " + strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(msg, p), ":"))
		}
		lines = append(lines, msg)
	}
	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", file, lines[0])
	}
	return fmt.Errorf("%s: validation failed:\n  %s", file, strings.Join(lines, "\n  "))
}

func loadFailure(path string, err error, suggestions ...string) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithIssue(issue.ConfigLoadFailedId).
		WithSuggestions(suggestions...).
		Wrap(err).
		BuildError()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GenerateCUE renders cfg as a config file accepted by Load.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	sb.WriteString("// e4s-cl configuration file\n\n")
	if cfg.Backend != "" {
		fmt.Fprintf(&sb, "backend: %q\n", cfg.Backend)
	}
	if cfg.Image != "" {
		fmt.Fprintf(&sb, "image: %q\n", cfg.Image)
	}
	fmt.Fprintf(&sb, "import_dir: %q\n", cfg.ImportDir)
	fmt.Fprintf(&sb, "script_path: %q\n", cfg.ScriptPath)
	fmt.Fprintf(&sb, "\ncache: {\n\tenabled: %v\n\tpath: %q\n}\n", cfg.Cache.Enabled, cfg.Cache.Path)
	fmt.Fprintf(&sb, "\nshifter: {\n\tsite_config: %q\n}\n", cfg.Shifter.SiteConfig)
	fmt.Fprintf(&sb, "\nlog: {\n\tverbose: %v\n\tprocess_dir: %q\n}\n", cfg.Log.Verbose, cfg.Log.ProcessDir)
	return sb.String()
}

// IsConfigError reports whether err came from loading or validating a configuration.
func IsConfigError(err error) bool {
	var ae *issue.ActionableError
	return errors.As(err, &ae) && ae.Issue == issue.ConfigLoadFailedId
}
