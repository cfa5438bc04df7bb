// Package output renders command results for keepstore-cli.
//
//   - formatter.go: Formatter interface and format parsing
//   - table.go: aligned tables built from structs, slices and maps
//   - json.go, yaml.go: machine-readable output
//   - progress.go: progress line for batch and maintenance runs
//
// Struct fields are rendered under their json tag. A `table` tag tunes
// table output: "-" hides the field, "wide" shows it only in wide mode,
// "bytes" prints a size and "millis" prints a Unix millisecond timestamp.
package output
