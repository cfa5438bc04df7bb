package tier

import "sync/atomic"

// quota tracks bytes used against an optional ceiling.
type quota struct {
	limit int64
	used  atomic.Int64
}

// admit reports whether replacing oldSize bytes with newSize stays within
// the limit.
func (q *quota) admit(oldSize, newSize int) bool {
	if q.limit <= 0 {
		return true
	}
	return q.used.Load()-int64(oldSize)+int64(newSize) <= q.limit
}

func (q *quota) commit(oldSize, newSize int) {
	q.used.Add(int64(newSize - oldSize))
}

func (q *quota) Quota() int64 { return q.limit }
func (q *quota) Used() int64  { return q.used.Load() }
