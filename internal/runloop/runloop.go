// Package runloop provides a single-goroutine task serializer. Work posted
// to a Loop runs in arrival order on one goroutine, giving components a
// message-passing boundary instead of shared-memory locking: state owned by
// the loop is only ever touched from the loop goroutine.
package runloop

import (
	"errors"
	"sync"
)

// ErrClosed is returned when posting to a closed loop.
var ErrClosed = errors.New("run loop closed")

// Loop executes posted functions sequentially on a dedicated goroutine.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	closed  bool
	done    chan struct{}
}

// New starts a loop.
func New() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		tasks := l.pending
		l.pending = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range tasks {
			fn()
		}
		if len(tasks) > 0 {
			// Running tasks may have posted more work; drain before
			// sleeping or exiting.
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}

// Post enqueues fn for execution and never blocks, so tasks running on the
// loop may post follow-up work freely. It returns ErrClosed after Close.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	l.signal()
	return nil
}

// Do runs fn on the loop goroutine and waits for it to finish. It must not
// be called from the loop goroutine itself.
func (l *Loop) Do(fn func()) error {
	doneCh := make(chan struct{})
	if err := l.Post(func() {
		defer close(doneCh)
		fn()
	}); err != nil {
		return err
	}
	<-doneCh
	return nil
}

// Close stops accepting work, drains already-posted tasks, and waits for
// the loop goroutine to exit. It must not be called from the loop goroutine.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
	<-l.done
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
