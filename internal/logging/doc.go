// Package logging assembles structured slog loggers and formatting helpers used
// across jxlpack.
//
// It owns the console and JSON handlers, the console-plus-file fan-out that
// keeps a DEBUG trail on disk while the terminal shows the configured level,
// and context-aware helpers that tag log lines with the run identifier, stage,
// directory, and source file. A no-op logger is provided for tests and wiring
// code that cannot fail.
package logging
