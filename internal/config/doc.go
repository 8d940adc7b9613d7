// Package config loads, normalizes, and validates jxlpack configuration data.
//
// The on-disk form is a flat TOML document: every option is a top-level
// key=value pair (encoder flag lists are TOML arrays). A missing or malformed
// file is not an error: the defaults are written back to the resolved path and
// used for the run, and Load reports that the file was restored. Validation
// failures, such as an empty png_args or jpg_args list, are fatal.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, a resolved worker count, and clear validation errors.
package config
