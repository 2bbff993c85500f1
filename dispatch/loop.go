package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrLoopClosed is returned by Call once the loop no longer accepts work.
var ErrLoopClosed = errors.New("dispatch: loop closed")

// Poster runs functions on the goroutine that owns the UI state.
type Poster interface {
	// Post enqueues fn and reports whether it was accepted. A refused fn never runs.
	Post(fn func()) bool
}

// Loop is a single goroutine that owns the document. Every mutation of state
// it owns must be posted to it.
type Loop struct {
	queue  chan func()
	quit   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewLoop returns a loop with the given queue capacity. Run must be called to drain it.
func NewLoop(capacity int) *Loop {
	return &Loop{
		queue: make(chan func(), capacity),
		quit:  make(chan struct{}),
	}
}

// Post enqueues fn. It blocks while the queue is full, and returns false
// without enqueueing once Close has been called.
func (l *Loop) Post(fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Call runs fn on the loop and waits for it to return.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	ok := l.Post(func() {
		defer close(done)
		fn()
	})
	if !ok {
		return ErrLoopClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted functions in order until ctx is done or Close is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case fn, ok := <-l.queue:
			if !ok {
				return
			}
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// Close stops accepting work; Run returns after draining what was queued.
// Posts blocked on a full queue are released and refused.
func (l *Loop) Close() {
	l.once.Do(func() {
		close(l.quit)
		l.mu.Lock()
		defer l.mu.Unlock()
		l.closed = true
		close(l.queue)
	})
}
