// Package worklist persists, per root directory, which sub-directories have
// been fully handled.
//
// Each root gets its own SQLite database named after a fingerprint of the
// root path, so distinct roots never share state. The database holds one
// work_root row (path, fingerprint, settings snapshot taken when the worklist
// was created) and one entries row per discovered directory with a done
// flag. An entry only ever moves from pending to done; MarkDone is a
// compare-and-set so each directory is completed exactly once.
//
// A companion lock file held with flock keeps two runs from working the same
// root at the same time.
package worklist
