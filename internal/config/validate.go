package config

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"jxlpack/internal/services"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateExclude(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateEncoder() error {
	if len(c.PNGArgs) == 0 {
		return invalid("png_args must list at least one encoder flag")
	}
	if len(c.JPGArgs) == 0 {
		return invalid("jpg_args must list at least one encoder flag")
	}
	if c.Workers < 0 {
		return invalid("workers must be zero or positive")
	}
	if c.EncodeTimeoutSeconds < 0 {
		return invalid("encode_timeout_seconds must be zero or positive")
	}
	return nil
}

func (c *Config) validateExclude() error {
	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return invalid(fmt.Sprintf("exclude pattern %q is not a valid glob", pattern))
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.LogFormat {
	case "console", "json":
	default:
		return invalid(fmt.Sprintf("log_format must be console or json, got %q", c.LogFormat))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log_level must be debug, info, warn, or error, got %q", c.LogLevel))
	}
	return nil
}

func invalid(message string) error {
	return services.Wrap(services.ErrConfiguration, "config", "validate", message, nil)
}
