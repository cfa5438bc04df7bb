package storage

import (
	"context"
	"time"
)

// linearStrategy fires immediately, then waits attempt×base before each
// following attempt. It implements the repeater strategy interface.
type linearStrategy struct {
	attempts int
	base     time.Duration
}

// Start returns a channel that receives one tick per attempt and is
// closed when attempts run out or ctx is done.
func (s *linearStrategy) Start(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		for attempt := 1; attempt <= s.attempts; attempt++ {
			if attempt > 1 {
				select {
				case <-time.After(time.Duration(attempt-1) * s.base):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
