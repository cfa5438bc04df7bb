// Package logger builds the slog logger shared by keepstore components.
//
// Output is JSON or text, to stderr or to a size-rotated file. The level
// can be changed at runtime with SetLevel. Attributes that carry personal
// data or secrets are masked before they are written.
package logger
