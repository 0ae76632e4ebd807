// SPDX-License-Identifier: MPL-2.0

// Package config loads launcher settings using Viper with CUE as the file format.
//
// Settings come from built-in defaults, then $XDG_CONFIG_HOME/e4s-cl/config.cue,
// then E4S_CL_* environment variables (E4S_CL_CACHE_PATH sets cache.path).
// The file is validated against the embedded #Config schema (config_schema.cue)
// before it is merged.
package config
