// Package preflight validates the root directory a run is asked to process
// before any worklist or encoder work begins.
//
// The interactive prompt and the command line both funnel through
// ResolveRoot, which strips surrounding quotes (as pasted from file managers)
// and insists on an existing, accessible directory.
package preflight
