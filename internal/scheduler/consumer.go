// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"fmt"
	"image"
	"image/color"
	"strings"
)

// Consumer is the receiver of frames pushed by a Scheduler.
//
// Consumer methods are called from the Scheduler's delivery path. A
// Consumer may call Detach or IsAttached on the Scheduler from within
// any of its methods, but must not call Attach. Consumers are used as
// map keys and so must be comparable.
type Consumer interface {
	// SetDimensions is called once per attachment with the
	// dimensions of the animation.
	SetDimensions(width, height int)
	// SetColorModel is called once per attachment with the
	// colour model of the pixels. Pixels are always ARGB with
	// non-premultiplied alpha, color.NRGBAModel.
	SetColorModel(color.Model)
	// SetHints is called once per attachment with the
	// delivery hints.
	SetHints(Hints)
	// SetPixels is called with a complete frame. The bounds
	// always cover the whole image. pix must not be retained
	// or modified.
	SetPixels(bounds image.Rectangle, pix []uint32, stride int)
	// ImageComplete is called after each frame's pixels
	// have been delivered.
	ImageComplete(Status)
}

// Hints describe how pixels are delivered to a Consumer.
type Hints uint

const (
	TopDownLeftRight  Hints = 1 << iota // Pixels are delivered in row-major order.
	CompleteScanLines                   // Pixels are delivered in whole rows.
	SinglePass                          // Each pixel is delivered once.
	SingleFrame                         // The image has a single frame.
)

func (h Hints) String() string {
	if h == 0 {
		return "0"
	}
	var names []string
	for _, f := range []struct {
		flag Hints
		name string
	}{
		{TopDownLeftRight, "TopDownLeftRight"},
		{CompleteScanLines, "CompleteScanLines"},
		{SinglePass, "SinglePass"},
		{SingleFrame, "SingleFrame"},
	} {
		if h&f.flag != 0 {
			names = append(names, f.name)
			h &^= f.flag
		}
	}
	if h != 0 {
		names = append(names, fmt.Sprintf("%#x", uint(h)))
	}
	return strings.Join(names, "|")
}

// Status is the completion marker passed to Consumer.ImageComplete.
type Status int

const (
	// SingleFrameDone marks the completion of one frame
	// of a multi-frame animation.
	SingleFrameDone Status = iota + 1
	// StaticImageDone marks the completion of the only
	// frame of a single-frame image.
	StaticImageDone
)

func (s Status) String() string {
	switch s {
	case SingleFrameDone:
		return "SingleFrameDone"
	case StaticImageDone:
		return "StaticImageDone"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}
