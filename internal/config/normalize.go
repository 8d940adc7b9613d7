package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.PNGArgs = normalizeArgs(c.PNGArgs)
	c.JPGArgs = normalizeArgs(c.JPGArgs)
	c.Exclude = normalizeArgs(c.Exclude)
	c.Encoder = strings.TrimSpace(c.Encoder)
	if c.Encoder == "" {
		c.Encoder = defaultEncoder
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.StateDir) == "" {
		c.StateDir = defaultStateDir
	}
	if c.StateDir, err = expandPath(c.StateDir); err != nil {
		return fmt.Errorf("state_dir: %w", err)
	}
	if strings.TrimSpace(c.LogDir) == "" {
		c.LogDir = defaultLogDir
	}
	if c.LogDir, err = expandPath(c.LogDir); err != nil {
		return fmt.Errorf("log_dir: %w", err)
	}
	if strings.HasPrefix(c.Encoder, "~") {
		if c.Encoder, err = expandPath(c.Encoder); err != nil {
			return fmt.Errorf("encoder: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
}

// normalizeArgs trims every entry and drops blanks, so "png_args = [\"\"]"
// counts as empty.
func normalizeArgs(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
