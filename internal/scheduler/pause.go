// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/kortschak/animate/internal/slogext"
)

// Mode is a global pause mode. The numeric values are part of the
// external control contract.
type Mode int

const (
	Running               Mode = -1 // Animations advance.
	PauseToFirstFrame     Mode = 0  // Animations show their first frame.
	PauseToCurrentFrame   Mode = 1  // Animations hold their current frame.
	PauseToPreferredFrame Mode = 2  // Animations show their preferred pause frame.
)

var modeNames = map[Mode]string{
	Running:               "running",
	PauseToFirstFrame:     "first",
	PauseToCurrentFrame:   "current",
	PauseToPreferredFrame: "preferred",
}

// Valid returns whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode returns the Mode with the given name or number.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if s == name {
			return m, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err == nil && Mode(n).Valid() {
		return Mode(n), nil
	}
	return 0, fmt.Errorf("invalid pause mode: %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MarshalJSON implements json.Marshaler. Modes are encoded as numbers.
func (m Mode) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, int64(m), 10), nil
}

// UnmarshalJSON implements json.Unmarshaler. Both numbers and mode
// names are accepted.
func (m *Mode) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(data, []byte{'"'}) {
		var s string
		err := json.Unmarshal(data, &s)
		if err != nil {
			return err
		}
		return m.UnmarshalText([]byte(s))
	}
	var n int
	err := json.Unmarshal(data, &n)
	if err != nil {
		return err
	}
	if !Mode(n).Valid() {
		return fmt.Errorf("invalid pause mode: %d", n)
	}
	*m = Mode(n)
	return nil
}

// Controller holds the global pause mode and the set of schedulers
// parked by it.
type Controller struct {
	log *slog.Logger

	mu     sync.Mutex
	mode   Mode
	parked map[*Scheduler]struct{}
}

// NewController returns a new Controller in the given mode.
func NewController(mode Mode, log *slog.Logger) (*Controller, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid pause mode: %d", int(mode))
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		log:    log.With(slog.String("component", "pause")),
		mode:   mode,
		parked: make(map[*Scheduler]struct{}),
	}, nil
}

// Mode returns the current pause mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Parked returns the number of parked schedulers.
func (c *Controller) Parked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.parked)
}

// SetMode sets the pause mode and returns the previous mode. If the mode
// changes, every parked scheduler is removed from the parked set and
// restarted so that it either resumes or renders the frame for the new
// pause mode.
func (c *Controller) SetMode(m Mode) (prev Mode, err error) {
	if !m.Valid() {
		return c.Mode(), fmt.Errorf("invalid pause mode: %d", int(m))
	}
	c.mu.Lock()
	prev = c.mode
	if m == prev {
		c.mu.Unlock()
		return prev, nil
	}
	c.mode = m
	parked := c.parked
	c.parked = make(map[*Scheduler]struct{})
	c.mu.Unlock()

	c.log.LogAttrs(context.Background(), slog.LevelInfo, "set mode",
		slog.Any("from", slogext.Stringer{Stringer: prev}),
		slog.Any("to", slogext.Stringer{Stringer: m}),
		slog.Int("restarting", len(parked)),
	)
	// Schedulers are restarted without holding c.mu since
	// restart acquires the scheduler's own lock.
	for s := range parked {
		s.restart()
	}
	return prev, nil
}

// park adds s to the parked set if the mode is still observed, the mode
// the caller rendered for, returning whether s was parked. A false return
// means the mode changed after s read it. It is called by s with its lock
// held.
func (c *Controller) park(s *Scheduler, observed Mode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == Running || c.mode != observed {
		return false
	}
	c.parked[s] = struct{}{}
	return true
}

// unpark removes s from the parked set. It is called by s with its lock
// held.
func (c *Controller) unpark(s *Scheduler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.parked, s)
}
