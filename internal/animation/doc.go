// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package animation provides animated image frame sources.
package animation

import (
	"fmt"
	"time"
)

// Source is a lazily decoded animated image. Source implementations must be
// safe for concurrent use.
type Source interface {
	// Frame returns the ARGB pixels of frame i. The returned
	// slice must not be modified. Any failure is reported as
	// a *DecodeError.
	Frame(i int) ([]uint32, error)
	// FrameCount returns the number of frames. It is always
	// positive.
	FrameCount() int
	// Delay returns the display duration of frame i.
	Delay(i int) time.Duration
	// Size returns the dimensions of every frame.
	Size() (width, height int)
	// Name returns a diagnostic name for the source.
	Name() string
	// PreferredPauseFrame returns the index of the frame that
	// best represents the animation when it is paused.
	PreferredPauseFrame() int
}

// DecodeError is the error returned when a Source fails to produce a frame.
type DecodeError struct {
	Name  string
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s frame %d: %v", e.Name, e.Index, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
