// Package snapshot manages point-in-time backups of a record collection.
//
// Each backup is stored through the storage engine as its own entry, and a
// small index entry lists the retained backups:
//
//	backup:index            []Info, newest first
//	backup:<ulid>           Snapshot[T]
//
// A backup carries the record count and a checksum of the encoded records.
// Restore verifies both, and runs the caller's per-record validator, before
// handing the records back; a backup that fails any check is never
// returned for restore.
//
// Retention keeps the newest Retention backups by timestamp and removes the
// rest after every successful Create.
package snapshot
