// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"
	"time"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
)

// IsGIF returns whether the data held by r is a GIF image.
func IsGIF(r ReadPeeker) bool {
	return hasMagic("GIF8?a", r)
}

// ReadPeeker is an io.Reader that can also peek n bytes ahead.
type ReadPeeker interface {
	io.Reader
	Peek(n int) ([]byte, error)
}

// AsReadPeeker converts an io.Reader to a ReadPeeker.
func AsReadPeeker(r io.Reader) ReadPeeker {
	if r, ok := r.(ReadPeeker); ok {
		return r
	}
	return bufio.NewReader(r)
}

// hasMagic returns whether r starts with the provided magic bytes.
func hasMagic(magic string, r ReadPeeker) bool {
	b, err := r.Peek(len(magic))
	if err != nil || len(b) != len(magic) {
		return false
	}
	for i, c := range b {
		if magic[i] != c && magic[i] != '?' {
			return false
		}
	}
	return true
}

// Decode returns a List decoded from r. GIF data is decoded with DecodeGIF.
// Any other registered image format is decoded as a single-frame List.
func Decode(name string, r io.Reader) (*List, error) {
	rp := AsReadPeeker(r)
	if IsGIF(rp) {
		return DecodeGIF(name, rp)
	}
	img, _, err := image.Decode(rp)
	if err != nil {
		return nil, err
	}
	return NewList(name, []*Frame{NewFrame(img, 0)})
}

// GIF disposal methods.
const (
	disposeBackground = 2
	disposePrevious   = 3
)

// DecodeGIF returns a List holding the fully composited frames of the GIF
// data in r. GIF delay, disposal and global background index values are
// checked for validity. Regions disposed to background are cleared to
// transparent.
func DecodeGIF(name string, r io.Reader) (*List, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, err
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("%s: no frames", name)
	}
	if len(g.Image) != len(g.Delay) && g.Delay != nil {
		return nil, fmt.Errorf("mismatched image count and delay count: %d != %d", len(g.Image), len(g.Delay))
	}
	if len(g.Image) != len(g.Disposal) && g.Disposal != nil {
		return nil, fmt.Errorf("mismatched image count and disposal count: %d != %d", len(g.Image), len(g.Disposal))
	}
	pal, ok := g.Config.ColorModel.(color.Palette)
	if idx := int(g.BackgroundIndex); ok && idx >= len(pal) {
		return nil, fmt.Errorf("global background colour index not in palette: %d", idx)
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewNRGBA(bounds)
	frames := make([]*Frame, 0, len(g.Image))
	for i, frame := range g.Image {
		var restore *image.NRGBA
		if g.Disposal != nil && g.Disposal[i] == disposePrevious {
			restore = image.NewNRGBA(frame.Bounds())
			draw.Copy(restore, frame.Bounds().Min, canvas, frame.Bounds(), draw.Src, nil)
		}
		draw.Copy(canvas, frame.Bounds().Min, frame, frame.Bounds(), draw.Over, nil)

		var delay time.Duration
		if g.Delay != nil {
			delay = 10 * time.Duration(g.Delay[i]) * time.Millisecond
		}
		frames = append(frames, NewFrame(canvas, delay))

		if g.Disposal != nil {
			switch g.Disposal[i] {
			case disposeBackground:
				draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
			case disposePrevious:
				draw.Copy(canvas, frame.Bounds().Min, restore, restore.Bounds(), draw.Src, nil)
			}
		}
	}
	return NewList(name, frames)
}
