// Package index provides a secondary index over an employee collection.
//
// An Index maps field values to the positions of the records holding them
// in the collection slice it was built from. Values are lower-cased. The
// index is never persisted; it carries the generation of the collection it
// was built from so callers can tell when it is stale.
package index
