// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"
)

// Frame is a single decoded image in an animation sequence. Frame values must
// not be mutated after construction.
type Frame struct {
	// Delay is the duration the frame is displayed for.
	Delay time.Duration

	Width, Height int

	// Pixels holds the frame's pixels in row-major order,
	// one ARGB value per pixel with non-premultiplied alpha.
	Pixels []uint32

	visible int
}

// NewFrame returns a Frame holding the pixels of img, rendered relative to
// the minimum point of its bounds. Negative delays are clamped to zero.
func NewFrame(img image.Image, delay time.Duration) *Frame {
	b := img.Bounds()
	f := &Frame{
		Delay:  max(delay, 0),
		Width:  b.Dx(),
		Height: b.Dy(),
		Pixels: make([]uint32, b.Dx()*b.Dy()),
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			p := ARGB(img.At(x, y))
			if p&0xff000000 != 0 {
				f.visible++
			}
			f.Pixels[i] = p
			i++
		}
	}
	return f
}

// VisiblePixelCount returns the number of pixels in the frame with a non-zero
// alpha value.
func (f *Frame) VisiblePixelCount() int {
	return f.visible
}

// ARGB returns the non-premultiplied ARGB encoding of c.
func ARGB(c color.Color) uint32 {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return uint32(n.A)<<24 | uint32(n.R)<<16 | uint32(n.G)<<8 | uint32(n.B)
}

// Image returns an image holding the ARGB pixels in pix with the given
// dimensions. It panics if pix is shorter than width*height.
func Image(width, height int, pix []uint32) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, p := range pix[:width*height] {
		img.Pix[4*i+0] = uint8(p >> 16)
		img.Pix[4*i+1] = uint8(p >> 8)
		img.Pix[4*i+2] = uint8(p)
		img.Pix[4*i+3] = uint8(p >> 24)
	}
	return img
}

// List is a memory-resident Source.
type List struct {
	name   string
	frames []*Frame
	width  int
	height int
	pause  int
}

var _ Source = (*List)(nil)

// NewList returns a List holding the provided frames. All frames must have
// the same dimensions. The preferred pause frame is the first frame with the
// most visible pixels.
func NewList(name string, frames []*Frame) (*List, error) {
	if len(frames) == 0 {
		return nil, errors.New("no frames")
	}
	l := &List{
		name:   name,
		frames: frames,
		width:  frames[0].Width,
		height: frames[0].Height,
	}
	for i, f := range frames {
		if f.Width != l.width || f.Height != l.height {
			return nil, fmt.Errorf("mismatched frame size at %d: %dx%d != %dx%d", i, f.Width, f.Height, l.width, l.height)
		}
		if f.visible > frames[l.pause].visible {
			l.pause = i
		}
	}
	return l, nil
}

// SetPreferredPauseFrame overrides the preferred pause frame.
func (l *List) SetPreferredPauseFrame(i int) error {
	if i < 0 || len(l.frames) <= i {
		return fmt.Errorf("pause frame out of range: %d not in [0,%d)", i, len(l.frames))
	}
	l.pause = i
	return nil
}

// Frame returns the pixels of frame i.
func (l *List) Frame(i int) ([]uint32, error) {
	if i < 0 || len(l.frames) <= i {
		return nil, &DecodeError{Name: l.name, Index: i, Err: errors.New("frame index out of range")}
	}
	return l.frames[i].Pixels, nil
}

// Frames returns the frames held by the list. The returned
// slice must not be modified.
func (l *List) Frames() []*Frame {
	return l.frames
}

// FrameCount returns the number of frames in the list.
func (l *List) FrameCount() int { return len(l.frames) }

// Delay returns the delay of frame i, or zero if i is out of range.
func (l *List) Delay(i int) time.Duration {
	if i < 0 || len(l.frames) <= i {
		return 0
	}
	return l.frames[i].Delay
}

// Size returns the frame dimensions.
func (l *List) Size() (width, height int) { return l.width, l.height }

// Name returns the list's name.
func (l *List) Name() string { return l.name }

// PreferredPauseFrame returns the preferred pause frame index.
func (l *List) PreferredPauseFrame() int { return l.pause }
