// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scheduler provides frame schedulers that push animation frames
// to attached consumers, and a global pause controller shared by them.
//
// A Scheduler runs while it has consumers, stopping itself once it has
// had none for an inactivity window, and parking itself while the global
// pause mode is not Running. Each scheduler has at most one outstanding
// tick; the next tick is requested only when the current one completes.
package scheduler

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kortschak/animate/internal/animation"
	"github.com/kortschak/animate/internal/slogext"
)

// DefaultInactivity is the default duration a scheduler keeps running
// without consumers.
const DefaultInactivity = 5 * time.Second

// Executor runs a function after a delay. The returned cancel function
// reports whether it prevented the function from running. *timer.Pool
// is an Executor.
type Executor interface {
	Schedule(delay time.Duration, fn func()) (cancel func() bool)
}

// Options are Scheduler options. The zero value is valid.
type Options struct {
	// Inactivity is the duration a scheduler keeps advancing
	// frames with no attached consumers. If zero, DefaultInactivity
	// is used.
	Inactivity time.Duration

	// MinDelay is the minimum delay between frames. Frame
	// delays at or below MinDelay are scheduled at MinDelay.
	MinDelay time.Duration

	// Now is the clock used for the inactivity window.
	// If nil, time.Now is used.
	Now func() time.Time
}

// Scheduler delivers the frames of an animation to its consumers.
type Scheduler struct {
	src   animation.Source
	exec  Executor
	pause *Controller
	opts  Options
	log   *slog.Logger

	// dmu serialises frame delivery so that a newly attached
	// consumer is initialised before it sees any broadcast.
	// Lock order is dmu, mu, then the controller's lock.
	dmu sync.Mutex

	mu        sync.Mutex
	consumers []Consumer
	index     int
	pixels    []uint32
	errored   bool
	closed    bool
	idleSince time.Time
	pending   bool // A tick is scheduled or executing.
	rearm     bool // A restart arrived while a tick was executing.
	cancel    func() bool
}

// New returns a new Scheduler for src, running its ticks on exec and
// observing the pause mode of pause.
func New(src animation.Source, exec Executor, pause *Controller, opts Options, log *slog.Logger) *Scheduler {
	if opts.Inactivity == 0 {
		opts.Inactivity = DefaultInactivity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		src:   src,
		exec:  exec,
		pause: pause,
		opts:  opts,
		log:   log.With(slog.String("component", "scheduler"), slog.String("name", src.Name())),
		index: -1,
	}
}

// Name returns the name of the scheduler's animation.
func (s *Scheduler) Name() string {
	return s.src.Name()
}

// Attach adds c to the scheduler's consumers. Before Attach returns, c is
// sent the animation's dimensions, colour model and hints, and the most
// recently produced frame if there is one. If the scheduler is not
// running and has not failed, it is started. A parked scheduler is also
// ticked, and stays in the controller's parked set until that tick
// completes; a concurrent mode change that finds it there only marks it
// for a further tick. Attaching an already attached consumer is a no-op.
func (s *Scheduler) Attach(c Consumer) {
	s.dmu.Lock()
	defer s.dmu.Unlock()

	s.mu.Lock()
	if slices.Contains(s.consumers, c) {
		s.mu.Unlock()
		return
	}
	s.consumers = append(s.consumers, c)
	s.idleSince = time.Time{}
	pix := s.pixels
	if !s.pending && !s.errored && !s.closed {
		s.log.LogAttrs(context.Background(), slog.LevelDebug, "start")
		s.schedule(0)
	}
	s.mu.Unlock()

	w, h := s.src.Size()
	if !s.IsAttached(c) {
		return
	}
	c.SetDimensions(w, h)
	if !s.IsAttached(c) {
		return
	}
	c.SetColorModel(color.NRGBAModel)
	if !s.IsAttached(c) {
		return
	}
	c.SetHints(s.hints())
	if pix != nil {
		s.send(c, pix)
	}
}

// Detach removes c from the scheduler's consumers. Detaching a consumer
// that is not attached is a no-op. The scheduler is not stopped until
// it has had no consumers for the inactivity window.
func (s *Scheduler) Detach(c Consumer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.consumers, c)
	if i < 0 {
		return
	}
	s.consumers = slices.Delete(s.consumers, i, i+1)
	if len(s.consumers) == 0 {
		s.idleSince = s.opts.Now()
	}
}

// IsAttached returns whether c is attached to the scheduler.
func (s *Scheduler) IsAttached(c Consumer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.consumers, c)
}

func (s *Scheduler) hints() Hints {
	h := TopDownLeftRight | CompleteScanLines
	if s.src.FrameCount() == 1 {
		h |= SinglePass | SingleFrame
	}
	return h
}

// send delivers a frame to c, checking that c is still attached before
// each step.
func (s *Scheduler) send(c Consumer, pix []uint32) {
	w, h := s.src.Size()
	if !s.IsAttached(c) {
		return
	}
	c.SetPixels(image.Rect(0, 0, w, h), pix, w)
	if !s.IsAttached(c) {
		return
	}
	status := SingleFrameDone
	if s.src.FrameCount() == 1 {
		status = StaticImageDone
	}
	c.ImageComplete(status)
}

// schedule requests a tick after delay. It must be called with s.mu held
// and no tick outstanding.
func (s *Scheduler) schedule(delay time.Duration) {
	if s.pending {
		panic("scheduler: tick already outstanding")
	}
	s.pending = true
	s.cancel = s.exec.Schedule(max(delay, s.opts.MinDelay), s.tick)
}

// restart is called by the pause controller to resume or re-render a
// parked scheduler.
func (s *Scheduler) restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errored || s.closed {
		return
	}
	if s.pending {
		s.rearm = true
		return
	}
	s.schedule(0)
}

// idle returns whether the scheduler has had no consumers for at least
// the inactivity window. It must be called with s.mu held.
func (s *Scheduler) idle() bool {
	if len(s.consumers) != 0 {
		return false
	}
	now := s.opts.Now()
	if s.idleSince.IsZero() {
		s.idleSince = now
	}
	return now.Sub(s.idleSince) >= s.opts.Inactivity
}

// stop ends production. It must be called with s.mu held.
func (s *Scheduler) stop() {
	s.pending = false
	s.rearm = false
	s.cancel = nil
	s.pixels = nil
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "stop inactive")
}

// pauseTarget returns the frame index to show in the pause mode m. It
// must be called with s.mu held.
func (s *Scheduler) pauseTarget(m Mode) int {
	n := s.src.FrameCount()
	switch m {
	case PauseToFirstFrame:
		return 0
	case PauseToCurrentFrame:
		return max(s.index, 0)
	default:
		return ((s.src.PreferredPauseFrame() % n) + n) % n
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	s.dmu.Lock()
	defer s.dmu.Unlock()

	s.mu.Lock()
	s.cancel = nil
	if s.errored || s.closed {
		s.pending = false
		s.rearm = false
		s.mu.Unlock()
		return
	}
	if s.idle() {
		s.stop()
		s.mu.Unlock()
		return
	}
	mode := s.pause.Mode()
	paused := mode != Running
	var idx int
	if paused {
		idx = s.pauseTarget(mode)
	} else {
		idx = (s.index + 1) % s.src.FrameCount()
	}
	render := !paused || idx != s.index || s.pixels == nil
	s.mu.Unlock()

	if render {
		pix, err := s.src.Frame(idx)

		s.mu.Lock()
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, "frame decode failed", slog.Int("index", idx), slog.Any("error", err))
			s.errored = true
			s.pixels = nil
			s.pending = false
			s.rearm = false
			s.mu.Unlock()
			return
		}
		if s.closed {
			s.pending = false
			s.rearm = false
			s.mu.Unlock()
			return
		}
		s.index = idx
		s.pixels = pix
		consumers := slices.Clone(s.consumers)
		s.mu.Unlock()

		for _, c := range consumers {
			s.send(c, pix)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rearm := s.rearm
	s.rearm = false
	s.pending = false
	if s.closed {
		return
	}
	if paused {
		if !rearm && s.pause.park(s, mode) {
			s.log.LogAttrs(ctx, slog.LevelDebug, "parked", slog.Int("index", s.index), slog.Any("mode", slogext.Stringer{Stringer: mode}))
			return
		}
		// The mode changed during the tick, so the rendered
		// frame may not be the target for the new mode.
		s.schedule(0)
		return
	}
	if s.idle() {
		s.stop()
		return
	}
	s.schedule(s.src.Delay(idx))
}

// Close detaches all consumers, cancels any scheduled tick and releases
// the cached frame. A closed scheduler is removed from the pause
// controller's parked set and is never restarted.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pause.unpark(s)
	s.consumers = nil
	s.pixels = nil
	if s.cancel != nil && s.cancel() {
		s.pending = false
		s.rearm = false
	}
	s.cancel = nil
}

// State is a snapshot of a Scheduler's state.
type State struct {
	Name      string `json:"name"`
	Index     int    `json:"index"`
	Frames    int    `json:"frames"`
	Consumers int    `json:"consumers"`
	Scheduled bool   `json:"scheduled"`
	Errored   bool   `json:"errored"`
	HasPixels bool   `json:"has_pixels"`
}

// State returns a snapshot of the scheduler's state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Name:      s.src.Name(),
		Index:     s.index,
		Frames:    s.src.FrameCount(),
		Consumers: len(s.consumers),
		Scheduled: s.pending,
		Errored:   s.errored,
		HasPixels: s.pixels != nil,
	}
}

// Group is a collection of schedulers.
type Group []*Scheduler

// States returns the states of all the schedulers in g.
func (g Group) States() []State {
	states := make([]State, len(g))
	for i, s := range g {
		states[i] = s.State()
	}
	return states
}

// Lookup returns the scheduler in g with the given name.
func (g Group) Lookup(name string) (*Scheduler, bool) {
	for _, s := range g {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}
