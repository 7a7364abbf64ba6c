// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package timer provides a shared pool for running delayed callbacks with
// bounded concurrency.
package timer

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool runs callbacks after a delay. At most a fixed number of callbacks
// are executed concurrently. No ordering between callbacks is guaranteed.
type Pool struct {
	log     *slog.Logger
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted

	mu      sync.Mutex
	closed  bool
	pending map[*task]struct{}
	active  sync.WaitGroup

	running atomic.Int64
}

type task struct {
	timer *time.Timer
}

// NewPool returns a new Pool running at most workers callbacks at a time.
// If workers is not positive, the bound is runtime.GOMAXPROCS(0).
func NewPool(workers int, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		log:     log.With(slog.String("component", "timer")),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		sem:     semaphore.NewWeighted(int64(workers)),
		pending: make(map[*task]struct{}),
	}
}

// Workers returns the concurrency bound of the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// Schedule arranges for fn to be called once, no earlier than delay from
// now. Negative delays are treated as zero. The returned cancel function
// reports whether it prevented fn from being called. If the pool is closed
// fn is never called.
func (p *Pool) Schedule(delay time.Duration, fn func()) (cancel func() bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.log.LogAttrs(p.ctx, slog.LevelDebug, "schedule on closed pool")
		return func() bool { return false }
	}
	t := &task{}
	p.pending[t] = struct{}{}
	// The timer callback cannot observe t before it is assigned
	// since it must first acquire p.mu.
	t.timer = time.AfterFunc(max(delay, 0), func() { p.run(t, fn) })
	return func() bool { return p.stop(t) }
}

func (p *Pool) run(t *task, fn func()) {
	p.mu.Lock()
	if _, ok := p.pending[t]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pending, t)
	p.active.Add(1)
	p.mu.Unlock()
	defer p.active.Done()

	err := p.sem.Acquire(p.ctx, 1)
	if err != nil {
		// The pool was closed while waiting for a worker.
		p.log.LogAttrs(p.ctx, slog.LevelDebug, "dropped callback", slog.Any("error", err))
		return
	}
	defer p.sem.Release(1)
	p.running.Add(1)
	defer p.running.Add(-1)
	fn()
}

func (p *Pool) stop(t *task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[t]; !ok {
		return false
	}
	delete(p.pending, t)
	// If the timer has already fired, run will find t absent
	// and return without calling fn.
	t.timer.Stop()
	return true
}

// Running returns the number of callbacks currently executing.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Pending returns the number of callbacks waiting for their delay to expire.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close stops the pool from accepting new callbacks, cancels all pending
// callbacks and waits for executing callbacks to return. Close must not be
// called from within a callback.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	n := len(p.pending)
	for t := range p.pending {
		t.timer.Stop()
	}
	clear(p.pending)
	p.cancel()
	p.mu.Unlock()

	p.active.Wait()
	p.log.LogAttrs(context.Background(), slog.LevelDebug, "closed", slog.Int("cancelled", n))
}
