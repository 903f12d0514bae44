package audiodev

import (
	"context"
	"sync"
	"time"
)

// waitq is a broadcast wakeup. A waiter takes the current channel while the condition it
// checked is still protected; broadcast closes that channel and installs a fresh one, so a
// wakeup between the check and the sleep is never lost.
type waitq struct {
	mu sync.Mutex
	ch chan struct{}
}

func (q *waitq) wait() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ch == nil {
		q.ch = make(chan struct{})
	}

	return q.ch
}

func (q *waitq) broadcast() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ch != nil {
		close(q.ch)
		q.ch = nil
	}
}

// sleep releases l, blocks until ch is closed, ctx is done or the timeout expires, and
// reacquires l. A zero timeout waits forever. It returns ctx.Err() or errTimeout.
func sleep(ctx context.Context, l sync.Locker, ch <-chan struct{}, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	l.Unlock()
	defer l.Lock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer:
		return errTimeout
	}
}
