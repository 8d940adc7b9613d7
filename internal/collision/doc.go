// Package collision assigns free output names and reconciles them against
// pre-existing files once the new output has been written.
//
// For a canonical path P the collision set is P, P(1), P(2), ... where the
// suffix sits between the stem and the extension ("a.jxl", "a(1).jxl").
// Reserve picks the first member that is neither on disk nor already handed
// out in this run, and remembers which lower members existed on disk at that
// moment (the priors). Reconcile later compares the new file against those
// priors, from the highest index down to P:
//
//   - identical content: the prior is redundant and is removed
//   - different content: the prior is kept and reported as a conflict
//
// The new file is moved onto P only when P itself was an identical prior
// that has just been removed. A content-different file is never overwritten;
// in that case the new output stays at its numbered name.
package collision
