// Package services defines shared utilities consumed by every pipeline stage.
//
// Key responsibilities:
//   - Context helpers that stamp run identifiers, stage names, and the
//     directory or source file being worked on, for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into recoverable (contained at directory granularity) and fatal
//     (configuration, worklist durability) outcomes.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
