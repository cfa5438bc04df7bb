// Package tier provides the ranked storage backends behind the engine.
//
// Three backends exist, probed in priority order:
//
//   - Durable: Badger v3 on local disk, survives restarts
//   - Session: SQLite in a private temporary directory, removed on Close
//   - Memory: an in-process sharded map, always available
//
// Every backend classifies failures into ErrKeyNotFound, ErrQuotaExceeded
// and ErrUnavailable so callers can react to each differently. Any other
// error is a generic (possibly transient) failure.
package tier
