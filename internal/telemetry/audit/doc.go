// Package audit keeps a bounded, persisted log of mutating operations.
//
// Entries live in an in-memory ring capped at Capacity entries and are
// dropped once older than Retention. Append never blocks the caller: it
// records the entry in the ring and signals a background writer, which
// persists the whole ring through the storage engine under a single key.
// When the writer queue is full the entry stays in the ring and goes out
// with the next flush. Close drains the queue and flushes once more.
package audit
