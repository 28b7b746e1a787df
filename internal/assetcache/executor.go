package assetcache

import (
	"context"
	"sync"

	"github.com/postercache/postercache/internal/keycodec"
)

// Executor decides where a GetAsync callback runs.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(fn func())

// Execute makes ExecutorFunc satisfy Executor.
func (f ExecutorFunc) Execute(fn func()) {
	f(fn)
}

// Inline runs callbacks on whichever goroutine resolved the lookup.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// GetAsync looks key up without blocking the calling goroutine and delivers
// the result to fn through exec exactly once. A memory hit is delivered
// immediately, without starting a goroutine.
func (c *Cache) GetAsync(ctx context.Context, key keycodec.Key, source string, exec Executor, fn func(Result)) {
	if exec == nil {
		exec = Inline
	}
	if keycodec.Valid(key) {
		if a, ok := c.memory.Get(key); ok {
			c.counters.memoryHits.Add(1)
			res := Result{Asset: a, Tier: TierMemory}
			exec.Execute(func() { fn(res) })
			return
		}
	}

	go func() {
		var res Result
		if keycodec.Valid(key) {
			res = c.loadSlow(ctx, key, source)
		} else {
			res = c.Load(ctx, key, source)
		}
		exec.Execute(func() { fn(res) })
	}()
}

// Loop is a serial executor: callbacks run one at a time, in submission
// order, on a single goroutine. It plays the role of a UI main loop.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

// NewLoop starts the loop goroutine.
func NewLoop() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Execute queues fn and never blocks. Once the loop is closed fn runs on the
// calling goroutine so that no delivery is lost.
func (l *Loop) Execute(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		fn()
		return
	}
	l.pending = append(l.pending, fn)
	l.cond.Signal()
	l.mu.Unlock()
}

// Close runs every queued callback and stops the loop. It must not be called
// from a callback running on the loop.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.pending) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.pending) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		l.mu.Unlock()

		fn()
	}
}
