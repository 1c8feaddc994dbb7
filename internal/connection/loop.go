package connection

import (
	"context"
	"sync"
)

// eventLoop runs posted tasks one at a time on a single goroutine. Posting
// never blocks, so tasks may post further tasks (and handlers may call back
// into the manager) without deadlocking.
type eventLoop struct {
	mu     sync.Mutex
	tasks  []func()
	wake   chan struct{}
	closed bool
}

func newEventLoop() *eventLoop {
	return &eventLoop{wake: make(chan struct{}, 1)}
}

// post enqueues fn. It returns false once the loop has stopped.
func (l *eventLoop) post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// run executes tasks in FIFO order until ctx is cancelled. Tasks still queued
// at cancellation are dropped.
func (l *eventLoop) run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		l.closed = true
		l.tasks = nil
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if len(l.tasks) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.tasks[0]
			l.tasks[0] = nil
			l.tasks = l.tasks[1:]
			l.mu.Unlock()

			fn()

			if ctx.Err() != nil {
				return
			}
		}
	}
}
