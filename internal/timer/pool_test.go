// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package timer

import (
	"flag"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kortschak/animate/internal/locked"
	"github.com/kortschak/animate/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func newTestPool(t *testing.T, workers int) *Pool {
	var logBuf locked.BytesBuffer
	log := slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
	p := NewPool(workers, log)
	t.Cleanup(func() {
		p.Close()
		if *verbose && logBuf.Len() != 0 {
			t.Logf("log:\n%s\n", &logBuf)
		}
	})
	return p
}

func TestScheduleDelay(t *testing.T) {
	p := newTestPool(t, 0)
	const delay = 20 * time.Millisecond
	start := time.Now()
	done := make(chan time.Duration)
	p.Schedule(delay, func() { done <- time.Since(start) })
	select {
	case got := <-done:
		if got < delay {
			t.Errorf("callback ran early: got:%v want:>=%v", got, delay)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback did not run")
	}
}

func TestNegativeDelay(t *testing.T) {
	p := newTestPool(t, 1)
	done := make(chan struct{})
	p.Schedule(-time.Hour, func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback did not run")
	}
}

func TestCancel(t *testing.T) {
	p := newTestPool(t, 1)
	var ran atomic.Bool
	cancel := p.Schedule(time.Hour, func() { ran.Store(true) })
	if got := p.Pending(); got != 1 {
		t.Errorf("unexpected pending count: got:%d want:1", got)
	}
	if !cancel() {
		t.Error("expected cancel to prevent callback")
	}
	if cancel() {
		t.Error("unexpected second successful cancel")
	}
	if got := p.Pending(); got != 0 {
		t.Errorf("unexpected pending count after cancel: got:%d want:0", got)
	}
	if ran.Load() {
		t.Error("cancelled callback ran")
	}
}

func TestCancelAfterRun(t *testing.T) {
	p := newTestPool(t, 1)
	done := make(chan struct{})
	cancel := p.Schedule(0, func() { close(done) })
	<-done
	if cancel() {
		t.Error("unexpected successful cancel of completed callback")
	}
}

func TestConcurrencyBound(t *testing.T) {
	const (
		workers = 2
		n       = 10
	)
	p := newTestPool(t, workers)
	if p.Workers() != workers {
		t.Errorf("unexpected worker count: got:%d want:%d", p.Workers(), workers)
	}
	var (
		wg      sync.WaitGroup
		current atomic.Int64
		peak    atomic.Int64
	)
	wg.Add(n)
	for range n {
		p.Schedule(0, func() {
			defer wg.Done()
			c := current.Add(1)
			defer current.Add(-1)
			for {
				m := peak.Load()
				if c <= m || peak.CompareAndSwap(m, c) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
		})
	}
	wg.Wait()
	if got := peak.Load(); got > workers {
		t.Errorf("too many concurrent callbacks: got:%d want:<=%d", got, workers)
	}
}

func TestReschedule(t *testing.T) {
	p := newTestPool(t, 1)
	const n = 5
	var count int
	done := make(chan struct{})
	var step func()
	step = func() {
		count++
		if count == n {
			close(done)
			return
		}
		p.Schedule(time.Millisecond, step)
	}
	p.Schedule(0, step)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("self-rescheduling callback did not complete: count=%d", count)
	}
}

func TestClose(t *testing.T) {
	p := newTestPool(t, 1)
	var ran atomic.Bool
	p.Schedule(time.Hour, func() { ran.Store(true) })
	p.Close()
	if got := p.Pending(); got != 0 {
		t.Errorf("unexpected pending count after close: got:%d want:0", got)
	}
	cancel := p.Schedule(0, func() { ran.Store(true) })
	if cancel() {
		t.Error("unexpected successful cancel on closed pool")
	}
	time.Sleep(10 * time.Millisecond)
	if ran.Load() {
		t.Error("callback ran after close")
	}
	if got := p.Running(); got != 0 {
		t.Errorf("unexpected running count after close: got:%d want:0", got)
	}
}

func TestCloseWaitsForRunning(t *testing.T) {
	p := newTestPool(t, 1)
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	p.Schedule(0, func() {
		close(started)
		<-release
		finished.Store(true)
	})
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("callback did not start")
	}

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("close returned while a callback was running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return after callback completed")
	}
	if !finished.Load() {
		t.Error("close returned before callback finished")
	}
}
