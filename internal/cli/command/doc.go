// Package command defines the keepstore-cli commands with urfave/cli/v2.
//
//   - root.go: application, global flags, config loading
//   - record.go: single and batch record operations, search and listing
//   - backup.go: snapshot management
//   - data.go: import and export
//   - integrity.go: integrity check and repair
//   - audit.go: audit log queries
//   - maintenance.go: optimizer runs
//   - storage.go: engine inspection and cleanup
//   - schema.go: JSON Schemas of the data formats
//   - config.go: effective configuration
//   - daemon.go: scheduler and metrics endpoint
//
// Every command opens the store, runs, and closes it again. Results go to
// the application writer in the format chosen with --output; logs go to
// the error writer.
package command
