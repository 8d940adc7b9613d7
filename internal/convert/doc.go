// Package convert runs the per-directory conversion stage.
//
// Every regular file in the directory except zip archives is sniffed by
// header. PNG and JPEG sources are converted to JPEG XL next to the source;
// existing JPEG XL files are kept for packaging; anything else is left alone
// with a warning. Output names are reserved one after another before any
// encoder starts, so sources sharing a stem ("a.png", "a.jpg") never race for
// the same slot. Encoders then run on a bounded errgroup and the stage waits
// for all of them before returning.
package convert
