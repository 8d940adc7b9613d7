// Package pipeline drives the per-directory state machine:
//
//	pending -> converting -> {all ok | any failed}
//	        -> {packaging | skip packaging} -> cleanup applied -> done
//
// Directories are handled one at a time, deepest first, so a parent is only
// looked at after every child has been packaged and cleaned. Conversion
// inside a directory fans out; packaging, cleanup and the worklist update
// run on the control goroutine. Once packaging starts the directory is
// finished even if the run is being interrupted, and done is recorded
// exactly once as the final step.
//
// File-level problems never stop the run. They downgrade the owning
// directory: any failed conversion means no archive and no deletion. Only
// worklist durability problems and worklist logic errors are returned.
package pipeline
