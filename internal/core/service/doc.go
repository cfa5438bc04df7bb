// Package service provides the record store for keepstore.
//
// RecordStore keeps the whole employee collection under one storage key.
// Every mutation loads the collection, applies the change, revalidates and
// writes the whole collection back. A short-lived read cache holds the last
// loaded collection and is invalidated by every successful write.
//
// This package contains:
//
//   - RecordStore: CRUD, batch operations, search and pagination
//   - Backup delegation to the snapshot manager
//   - Import and export in JSON, CSV and YAML
//   - Integrity checks and automatic repair
//   - Scheduler: cron jobs for auto backup, audit pruning and maintenance
//
// RecordStore does not serialize mutations. Callers that mutate the same
// collection concurrently must serialize themselves; otherwise the last
// writer wins.
package service
