// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"errors"
	"image"
	"image/color"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bbrks/wrap/v2"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextDelay is the per-frame delay of scrolling text.
const TextDelay = 150 * time.Millisecond

// Text is a scrolling text animation.
type Text string

// List returns a List containing the frames required to present the full
// length of the receiver within the given bounds using [basicfont.Face7x13].
// Text that fits within bounds is word wrapped and centred in a single frame,
// otherwise it scrolls through the bounds one character per frame.
func (t Text) List(name string, bounds image.Rectangle, fg, bg color.Color) (*List, error) {
	face := basicfont.Face7x13
	rows := bounds.Dy() / face.Height
	cols := bounds.Dx() / face.Advance
	if rows*cols < 4 {
		return nil, errors.New("bound too small")
	}
	bounds = bounds.Sub(bounds.Min)

	s := string(t)
	if utf8.RuneCountInString(s) <= rows*cols {
		wrapper := wrap.NewWrapper()
		wrapper.StripTrailingNewline = true
		wrapper.CutLongWords = true
		lines := strings.Split(wrapper.Wrap(s, cols), "\n")
		for i, l := range lines {
			lines[i] = strings.TrimSpace(l)
		}
		if len(lines) <= rows {
			img := drawLines(bounds, face, lines, fg, bg, true)
			return NewList(name, []*Frame{NewFrame(img, TextDelay)})
		}
	}

	// Scroll the text in from the bottom right, one rune per frame.
	runes := []rune(strings.Repeat(" ", rows*cols-1) + s)
	frames := make([]*Frame, 0, len(runes))
	for i := range runes {
		window := runes[i:min(i+rows*cols, len(runes))]
		lines := make([]string, 0, rows)
		for len(window) != 0 {
			n := min(cols, len(window))
			lines = append(lines, string(window[:n]))
			window = window[n:]
		}
		frames = append(frames, NewFrame(drawLines(bounds, face, lines, fg, bg, false), TextDelay))
	}
	return NewList(name, frames)
}

// drawLines renders lines onto a new image filled with bg. If centre is true
// the block of lines is centred in bounds, otherwise it is placed at the top
// left.
func drawLines(bounds image.Rectangle, face *basicfont.Face, lines []string, fg, bg color.Color, centre bool) *image.NRGBA {
	dst := image.NewNRGBA(bounds)
	draw.Draw(dst, bounds, &image.Uniform{bg}, image.Point{}, draw.Src)
	d := font.Drawer{
		Dst:  dst,
		Src:  &image.Uniform{fg},
		Face: face,
	}
	top := 0
	if centre {
		top = (bounds.Dy() - len(lines)*face.Height) / 2
	}
	for i, l := range lines {
		left := 0
		if centre {
			left = (bounds.Dx() - utf8.RuneCountInString(l)*face.Advance) / 2
		}
		d.Dot = fixed.P(left, top+i*face.Height+face.Ascent)
		d.DrawString(l)
	}
	return dst
}
