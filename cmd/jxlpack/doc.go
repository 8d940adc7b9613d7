// Package main hosts the jxlpack CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration, builds the logger and the
// per-root worklist, then hands the root directory to the pipeline. The
// config and worklist subcommands cover scaffolding and maintenance of the
// files the run command depends on.
//
// Keep this package lean: behavior lives in the internal packages and is
// only surfaced here through commands and flags.
package main
