// Package main provides the entry point for keepstore-cli.
//
// keepstore-cli manages a local employee record store: records, backups,
// import and export, integrity checks, the audit log and storage
// maintenance. The daemon subcommand keeps the store open, runs the
// scheduled jobs and serves /metrics.
package main
