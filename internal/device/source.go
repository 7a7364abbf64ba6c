// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/draw"

	"github.com/kortschak/animate/internal/animation"
)

// DefaultBounds is the button size used when no device is available.
var DefaultBounds = image.Rect(0, 0, 72, 72)

// Load returns an animation named name decoded from src and scaled to fit
// rect. Text animations are rendered to the size of rect. If rect is
// empty, DefaultBounds is used for text and images are not scaled.
//
// src is either a path to an image file or a data URI in one of the forms
//
//	data:text/plain[;fg=<colour>][;bg=<colour>],<message>
//	data:text/filename,<path>
//	data:image/*;base64,<data>
//	data:image/*;name,<colour name>
//	data:image/*;web,#<rrggbb>
//
// Image files are opened relative to datadir unless the filename is an
// absolute path or starts with "~/".
func Load(name, src string, rect image.Rectangle, datadir string) (*animation.List, error) {
	if !strings.HasPrefix(src, "data:") {
		return loadFile(name, src, rect, datadir)
	}
	typ, mtyp, par, val, enc, err := parseDataURI(src)
	if err != nil {
		return nil, err
	}
	param, err := getParams(par)
	if err != nil {
		return nil, err
	}
	switch typ {
	case "text":
		switch mtyp {
		case "text/plain":
			if rect.Empty() {
				rect = DefaultBounds
			}
			fg, bg, err := fgbg(color.White, color.Black, param)
			if err != nil {
				return nil, err
			}
			return animation.Text(val).List(name, rect, fg, bg)
		case "text/filename":
			return loadFile(name, val, rect, datadir)
		default:
			return nil, fmt.Errorf("unknown text mime type: %s", mtyp)
		}
	case "image":
		switch enc {
		case "name":
			col, ok := ansiColor[val]
			if !ok {
				return nil, fmt.Errorf("invalid color name: %s", val)
			}
			return swatch(name, col, rect)
		case "web":
			col, err := webColor(val)
			if err != nil {
				return nil, err
			}
			return swatch(name, col, rect)
		case "base64":
			b, err := base64.StdEncoding.DecodeString(val)
			if err != nil {
				return nil, fmt.Errorf("base64: %w", err)
			}
			l, err := animation.Decode(name, bytes.NewReader(b))
			if err != nil {
				return nil, err
			}
			return scale(l, rect)
		}
	}
	panic("unreachable")
}

// ErrorList returns a text animation describing err, sized to rect.
func ErrorList(name string, err error, rect image.Rectangle) (*animation.List, error) {
	if rect.Empty() {
		rect = DefaultBounds
	}
	l, textErr := animation.Text(err.Error()).List(name, rect, color.White, ansiColor["red"])
	if textErr != nil {
		return nil, errors.Join(err, textErr)
	}
	return l, nil
}

func loadFile(name, path string, rect image.Rectangle, datadir string) (*animation.List, error) {
	path, ok := strings.CutPrefix(path, "~/")
	if ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("file: %w", err)
		}
		path = filepath.Join(home, path)
	}
	if !filepath.IsAbs(path) && datadir != "" {
		path = filepath.Join(datadir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file: %w", err)
	}
	defer f.Close()
	l, err := animation.Decode(name, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scale(l, rect)
}

func swatch(name string, col color.Color, rect image.Rectangle) (*animation.List, error) {
	if rect.Empty() {
		rect = DefaultBounds
	}
	img := image.NewNRGBA(rect)
	draw.Draw(img, img.Bounds(), &image.Uniform{col}, image.Point{}, draw.Src)
	return animation.NewList(name, []*animation.Frame{animation.NewFrame(img, 0)})
}

// scale returns l with its frames scaled to fit rect, keeping the aspect
// ratio of the frames. If rect is empty or already matches the frame size
// l is returned unaltered.
func scale(l *animation.List, rect image.Rectangle) (*animation.List, error) {
	rect = rect.Sub(rect.Min)
	w, h := l.Size()
	if rect.Empty() || (rect.Dx() == w && rect.Dy() == h) {
		return l, nil
	}
	dr := keepAspectRatio(rect, w, h)
	frames := make([]*animation.Frame, l.FrameCount())
	for i, f := range l.Frames() {
		src := animation.Image(f.Width, f.Height, f.Pixels)
		dst := image.NewNRGBA(rect)
		draw.BiLinear.Scale(dst, dr, src, src.Bounds(), draw.Src, nil)
		frames[i] = animation.NewFrame(dst, f.Delay)
	}
	return animation.NewList(l.Name(), frames)
}

// keepAspectRatio returns the largest rectangle centred in b with the
// aspect ratio of a w×h image.
func keepAspectRatio(b image.Rectangle, w, h int) image.Rectangle {
	dx, dy := b.Dx(), b.Dy()
	switch {
	case w*dy < h*dx:
		dx = w * dy / h
	case w*dy > h*dx:
		dy = h * dx / w
	}
	offset := image.Point{X: (b.Dx() - dx) / 2, Y: (b.Dy() - dy) / 2}
	return image.Rectangle{Max: image.Point{X: dx, Y: dy}}.Add(offset).Add(b.Min)
}

func getParams(par string) (map[string]string, error) {
	if par == "" {
		return nil, nil
	}
	param := make(map[string]string)
	var err error
	for _, kv := range strings.Split(par, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			return nil, fmt.Errorf("invalid params: %s", par)
		}
		param[strings.TrimSpace(k)], err = url.PathUnescape(strings.TrimSpace(v))
		if err != nil {
			return nil, err
		}
	}
	return param, nil
}

// parseDataURI handles data URIs in the form
// "^data:(?:text/(?:filename|plain)|image/\*;(?:base64|name|web)),.*$".
func parseDataURI(uri string) (typ, mtyp, par, val, enc string, err error) {
	u, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", "", "", "", "", fmt.Errorf("invalid scheme: %s", uri)
	}
	mtyp, val, ok = strings.Cut(u, ",")
	if !ok {
		return "", "", "", "", "", fmt.Errorf("invalid data uri: %s", uri)
	}
	typ, _, ok = strings.Cut(mtyp, "/")
	if !ok {
		return "", "", "", "", "", fmt.Errorf("invalid data uri: %s", uri)
	}
	switch typ {
	case "text":
		mtyp, par, _ := strings.Cut(mtyp, ";")
		return typ, mtyp, par, val, "", nil
	case "image":
		mtyp, enc, ok = cutLast(mtyp, ";")
		if !ok {
			return "", "", "", "", "", fmt.Errorf("invalid image data uri: %s", uri)
		}
		switch enc {
		case "base64", "name", "web":
			mtyp, par, _ := strings.Cut(mtyp, ";")
			return typ, mtyp, par, val, enc, nil
		default:
			return "", "", "", "", "", fmt.Errorf("invalid encoding in image uri: %s", uri)
		}
	default:
		return "", "", "", "", "", fmt.Errorf("unknown mime type: %s", uri)
	}
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

func fgbg(fg, bg color.Color, param map[string]string) (_fg, _bg color.Color, err error) {
	_fg, _bg = fg, bg
	if v, ok := param["fg"]; ok {
		_fg, err = paramColor(v)
		if err != nil {
			return fg, bg, err
		}
	}
	if v, ok := param["bg"]; ok {
		_bg, err = paramColor(v)
		if err != nil {
			return fg, bg, err
		}
	}
	return _fg, _bg, nil
}

func paramColor(val string) (color.Color, error) {
	if strings.HasPrefix(val, "#") {
		return webColor(val)
	}
	col, ok := ansiColor[val]
	if !ok {
		return nil, fmt.Errorf("invalid color name: %s", val)
	}
	return col, nil
}

var ansiColor = map[string]color.Color{
	"black":     color.RGBA{R: 0x00, G: 0x00, B: 0x00, A: 0xff},
	"red":       color.RGBA{R: 0x80, G: 0x00, B: 0x00, A: 0xff},
	"green":     color.RGBA{R: 0x00, G: 0x80, B: 0x00, A: 0xff},
	"yellow":    color.RGBA{R: 0x80, G: 0x80, B: 0x00, A: 0xff},
	"blue":      color.RGBA{R: 0x00, G: 0x00, B: 0x80, A: 0xff},
	"magenta":   color.RGBA{R: 0x80, G: 0x00, B: 0x80, A: 0xff},
	"cyan":      color.RGBA{R: 0x00, G: 0x80, B: 0x80, A: 0xff},
	"white":     color.RGBA{R: 0xc0, G: 0xc0, B: 0xc0, A: 0xff},
	"hiblack":   color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff},
	"hired":     color.RGBA{R: 0xff, G: 0x00, B: 0x00, A: 0xff},
	"higreen":   color.RGBA{R: 0x00, G: 0xff, B: 0x00, A: 0xff},
	"hiyellow":  color.RGBA{R: 0xff, G: 0xff, B: 0x00, A: 0xff},
	"hiblue":    color.RGBA{R: 0x00, G: 0x00, B: 0xff, A: 0xff},
	"himagenta": color.RGBA{R: 0xff, G: 0x00, B: 0xff, A: 0xff},
	"hicyan":    color.RGBA{R: 0x00, G: 0xff, B: 0xff, A: 0xff},
	"hiwhite":   color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
}

func webColor(val string) (color.Color, error) {
	val, ok := strings.CutPrefix(val, "#")
	if !ok {
		return nil, fmt.Errorf("invalid web color: %s", val)
	}
	c, err := strconv.ParseUint(val, 16, 24)
	if err != nil {
		return nil, err
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(c))
	return color.NRGBA{R: b[1], G: b[2], B: b[3], A: 0xff}, nil
}
