// Package imageformat classifies files by their header bytes rather than
// their extension.
//
// PNG and JPEG are convertible. JPEG XL (bare codestream or ISO BMFF
// container) is already in the target format and is kept as-is. Everything
// else is unsupported and left untouched.
package imageformat
