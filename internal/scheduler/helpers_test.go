// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kortschak/animate/internal/animation"
	"github.com/kortschak/animate/internal/locked"
	"github.com/kortschak/animate/internal/slogext"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func newTestLogger(t *testing.T) (*slog.Logger, *locked.BytesBuffer) {
	var logBuf locked.BytesBuffer
	log := slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
	t.Cleanup(func() {
		if *verbose && logBuf.Len() != 0 {
			t.Logf("log:\n%s\n", &logBuf)
		}
	})
	return log, &logBuf
}

// manualExecutor is an Executor that runs callbacks only when stepped.
type manualExecutor struct {
	mu     sync.Mutex
	queue  []*job
	delays []time.Duration
}

type job struct {
	delay     time.Duration
	fn        func()
	cancelled bool
}

func (e *manualExecutor) Schedule(delay time.Duration, fn func()) func() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	j := &job{delay: delay, fn: fn}
	e.queue = append(e.queue, j)
	e.delays = append(e.delays, delay)
	return func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, q := range e.queue {
			if q == j {
				e.queue = append(e.queue[:i], e.queue[i+1:]...)
				j.cancelled = true
				return true
			}
		}
		return false
	}
}

// step runs the oldest queued callback, returning false if there
// was none.
func (e *manualExecutor) step() bool {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return false
	}
	j := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()
	j.fn()
	return true
}

func (e *manualExecutor) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSource is a 1x1 animation.Source whose frame i holds the
// single pixel value i.
type fakeSource struct {
	name      string
	frames    int
	delay     time.Duration
	preferred int
	failAt    int // Frame index that fails, or -1.

	// onFrame, if not nil, is called with the requested
	// index before each Frame call returns.
	onFrame func(i int)

	mu    sync.Mutex
	calls []int
}

var _ animation.Source = (*fakeSource)(nil)

func newFakeSource(name string, frames int) *fakeSource {
	return &fakeSource{name: name, frames: frames, delay: 10 * time.Millisecond, failAt: -1}
}

func (s *fakeSource) Frame(i int) ([]uint32, error) {
	if s.onFrame != nil {
		s.onFrame(i)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, i)
	if i == s.failAt {
		return nil, &animation.DecodeError{Name: s.name, Index: i, Err: errors.New("corrupt frame")}
	}
	return []uint32{uint32(i)}, nil
}

func (s *fakeSource) Calls() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.calls...)
}

func (s *fakeSource) FrameCount() int { return s.frames }
func (s *fakeSource) Delay(int) time.Duration { return s.delay }
func (s *fakeSource) Size() (width, height int) { return 1, 1 }
func (s *fakeSource) Name() string { return s.name }
func (s *fakeSource) PreferredPauseFrame() int { return s.preferred }
func (s *fakeSource) String() string { return fmt.Sprintf("%s[%d]", s.name, s.frames) }

// recorder is a Consumer that records the calls made to it.
type recorder struct {
	name string

	mu     sync.Mutex
	events []string
	frames []int

	// detachOn names an event that causes the recorder to
	// detach itself from sched.
	detachOn string
	sched    *Scheduler
}

func (r *recorder) record(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	if event == r.detachOn {
		r.sched.Detach(r)
	}
}

func (r *recorder) SetDimensions(w, h int) { r.record(fmt.Sprintf("dims %dx%d", w, h)) }

func (r *recorder) SetColorModel(m color.Model) {
	if m == color.NRGBAModel {
		r.record("model nrgba")
	} else {
		r.record("model other")
	}
}

func (r *recorder) SetHints(h Hints) { r.record("hints " + h.String()) }

func (r *recorder) SetPixels(b image.Rectangle, pix []uint32, stride int) {
	r.mu.Lock()
	r.frames = append(r.frames, int(pix[0]))
	r.mu.Unlock()
	r.record(fmt.Sprintf("pixels %v %d stride=%d", b, pix[0], stride))
}

func (r *recorder) ImageComplete(s Status) { r.record("done " + s.String()) }

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Frames() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.frames...)
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.frames = nil
}
