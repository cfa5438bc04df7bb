// Package maintenance runs the storage optimizer.
//
// A run walks five phases in order:
//
//	analyze          classify entries by state and size bucket
//	cleanup          remove expired, corrupted and duplicate entries
//	recompress       rewrite large entries that are poorly compressed
//	defragment       rewrite surviving entries smallest first, then compact the tier
//	rebuild_indices  rebuild in-memory search indices
//
// Every phase is idempotent and works from a fresh listing of the store.
// Progress is persisted after each phase, so a run that stops part way
// resumes after the last completed phase. Each rewrite replaces a whole
// envelope, so an interrupted phase never leaves a partial entry behind.
package maintenance
