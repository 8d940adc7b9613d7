// Package logs reads the run log written by the file handler: the last N
// lines, optionally narrowed to one run_id, and a polling follow mode for
// watching a run from another terminal.
package logs
