package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Config encapsulates all configuration values for jxlpack.
//
// Option groups:
//   - DeleteFolder, DeleteSourceImage, MakeZip, SkipTrash: per-directory cleanup gates
//   - PNGArgs, JPGArgs, Encoder, Workers, EncodeTimeoutSeconds: conversion stage
//   - Exclude: directories the scheduler never visits
//   - StateDir: where per-root worklists live
//   - LogDir, LogLevel, LogFormat: log output
type Config struct {
	DeleteFolder         bool     `toml:"delete_folder"`
	DeleteSourceImage    bool     `toml:"delete_source_image"`
	MakeZip              bool     `toml:"make_zip"`
	SkipTrash            bool     `toml:"dont_use_trashcan_just_delete"`
	PNGArgs              []string `toml:"png_args"`
	JPGArgs              []string `toml:"jpg_args"`
	Encoder              string   `toml:"encoder"`
	Workers              int      `toml:"workers"`
	EncodeTimeoutSeconds int      `toml:"encode_timeout_seconds"`
	Exclude              []string `toml:"exclude"`
	StateDir             string   `toml:"state_dir"`
	LogDir               string   `toml:"log_dir"`
	LogLevel             string   `toml:"log_level"`
	LogFormat            string   `toml:"log_format"`
}

// fileConfig mirrors Config with optional fields so absent keys keep their
// defaults while explicitly empty lists stay empty.
type fileConfig struct {
	DeleteFolder         *bool     `toml:"delete_folder"`
	DeleteSourceImage    *bool     `toml:"delete_source_image"`
	MakeZip              *bool     `toml:"make_zip"`
	SkipTrash            *bool     `toml:"dont_use_trashcan_just_delete"`
	PNGArgs              *[]string `toml:"png_args"`
	JPGArgs              *[]string `toml:"jpg_args"`
	Encoder              *string   `toml:"encoder"`
	Workers              *int      `toml:"workers"`
	EncodeTimeoutSeconds *int      `toml:"encode_timeout_seconds"`
	Exclude              *[]string `toml:"exclude"`
	StateDir             *string   `toml:"state_dir"`
	LogDir               *string   `toml:"log_dir"`
	LogLevel             *string   `toml:"log_level"`
	LogFormat            *string   `toml:"log_format"`
}

// LoadResult describes where configuration came from.
type LoadResult struct {
	// Path is the resolved configuration file location.
	Path string
	// Restored is true when the file was missing or malformed and the defaults
	// were written back to Path.
	Restored bool
	// Backup holds the location a malformed file was moved to, if any.
	Backup string
	// ParseError is the decode failure that triggered a restore.
	ParseError error
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/jxlpack/config.toml")
}

// Load locates, parses, normalizes, and validates a configuration file. A
// missing or undecodable file is replaced by the defaults; validation errors
// are returned wrapped in services.ErrConfiguration.
func Load(path string) (*Config, LoadResult, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, LoadResult{}, err
	}
	result := LoadResult{Path: resolvedPath}

	if exists {
		data, err := os.ReadFile(resolvedPath)
		if err != nil {
			return nil, result, fmt.Errorf("read config: %w", err)
		}
		var parsed fileConfig
		if decodeErr := toml.Unmarshal(data, &parsed); decodeErr != nil {
			backup := resolvedPath + ".bak"
			if err := os.Rename(resolvedPath, backup); err != nil {
				return nil, result, fmt.Errorf("back up malformed config: %w", err)
			}
			result.Backup = backup
			result.ParseError = decodeErr
			exists = false
		} else {
			parsed.apply(&cfg)
		}
	}

	if !exists {
		if err := CreateSample(resolvedPath); err != nil {
			return nil, result, err
		}
		result.Restored = true
	}

	if err := cfg.normalize(); err != nil {
		return nil, result, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, result, err
	}

	return &cfg, result, nil
}

func (f fileConfig) apply(cfg *Config) {
	if f.DeleteFolder != nil {
		cfg.DeleteFolder = *f.DeleteFolder
	}
	if f.DeleteSourceImage != nil {
		cfg.DeleteSourceImage = *f.DeleteSourceImage
	}
	if f.MakeZip != nil {
		cfg.MakeZip = *f.MakeZip
	}
	if f.SkipTrash != nil {
		cfg.SkipTrash = *f.SkipTrash
	}
	if f.PNGArgs != nil {
		cfg.PNGArgs = append([]string{}, (*f.PNGArgs)...)
	}
	if f.JPGArgs != nil {
		cfg.JPGArgs = append([]string{}, (*f.JPGArgs)...)
	}
	if f.Encoder != nil {
		cfg.Encoder = *f.Encoder
	}
	if f.Workers != nil {
		cfg.Workers = *f.Workers
	}
	if f.EncodeTimeoutSeconds != nil {
		cfg.EncodeTimeoutSeconds = *f.EncodeTimeoutSeconds
	}
	if f.Exclude != nil {
		cfg.Exclude = append([]string{}, (*f.Exclude)...)
	}
	if f.StateDir != nil {
		cfg.StateDir = *f.StateDir
	}
	if f.LogDir != nil {
		cfg.LogDir = *f.LogDir
	}
	if f.LogLevel != nil {
		cfg.LogLevel = *f.LogLevel
	}
	if f.LogFormat != nil {
		cfg.LogFormat = *f.LogFormat
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		return statConfig(expanded)
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("jxlpack.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func statConfig(path string) (string, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return path, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %q is a directory", path)
	}
	return path, true, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.StateDir, c.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WorkerCount returns the effective number of parallel encoder invocations.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

// EncodeTimeout returns the per-invocation encoder timeout, or zero for none.
func (c *Config) EncodeTimeout() time.Duration {
	if c.EncodeTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.EncodeTimeoutSeconds) * time.Second
}

// Settings is the behavior-defining subset of the configuration. It is
// recorded with a worklist when the worklist is first created.
type Settings struct {
	DeleteFolder      bool     `toml:"delete_folder"`
	DeleteSourceImage bool     `toml:"delete_source_image"`
	MakeZip           bool     `toml:"make_zip"`
	SkipTrash         bool     `toml:"dont_use_trashcan_just_delete"`
	PNGArgs           []string `toml:"png_args"`
	JPGArgs           []string `toml:"jpg_args"`
	Encoder           string   `toml:"encoder"`
}

// Settings returns the snapshot recorded alongside a new worklist.
func (c *Config) Settings() Settings {
	return Settings{
		DeleteFolder:      c.DeleteFolder,
		DeleteSourceImage: c.DeleteSourceImage,
		MakeZip:           c.MakeZip,
		SkipTrash:         c.SkipTrash,
		PNGArgs:           append([]string{}, c.PNGArgs...),
		JPGArgs:           append([]string{}, c.JPGArgs...),
		Encoder:           c.Encoder,
	}
}

// Encode renders the settings snapshot as TOML.
func (s Settings) Encode() (string, error) {
	data, err := toml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode settings: %w", err)
	}
	return string(data), nil
}

// DecodeSettings parses a snapshot produced by Settings.Encode.
func DecodeSettings(raw string) (Settings, error) {
	var s Settings
	if err := toml.Unmarshal([]byte(raw), &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

// Encode renders the full effective configuration as TOML.
func (c *Config) Encode() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes the sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
