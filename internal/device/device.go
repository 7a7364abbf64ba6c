// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package device provides consumers that present animation frames on
// El Gato Stream Deck buttons or in the log.
package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kortschak/ardilla"

	"github.com/kortschak/animate/internal/scheduler"
	"github.com/kortschak/animate/internal/slogext"
)

// Deck is a lock-protected [ardilla.Deck].
type Deck struct {
	mu   sync.Mutex
	deck *ardilla.Deck

	rows, cols int
	pid        ardilla.PID
	serial     string
	log        *slog.Logger
}

// OpenDeck opens a Stream Deck. The pid and serial parameters are
// interpreted according to the documentation for [ardilla.NewDeck].
func OpenDeck(pid ardilla.PID, serial string, log *slog.Logger) (*Deck, error) {
	deck, err := ardilla.NewDeck(pid, serial)
	if err != nil {
		return nil, err
	}
	if serial == "" {
		serial, err = deck.Serial()
		if err != nil {
			deck.Close()
			return nil, err
		}
	}
	rows, cols := deck.Layout()
	d := &Deck{
		deck:   deck,
		rows:   rows,
		cols:   cols,
		pid:    deck.PID(),
		serial: serial,
		log:    log.With(slog.String("component", "deck")),
	}
	d.log.LogAttrs(context.Background(), slog.LevelInfo, "opened deck",
		slog.String("pid", fmt.Sprintf("0x%04x", uint16(d.pid))),
		slog.String("model", d.pid.String()),
		slog.String("serial", serial),
	)
	return d, nil
}

// PID returns the model PID of the device.
func (d *Deck) PID() ardilla.PID {
	return d.pid
}

// Serial returns the serial number of the device.
func (d *Deck) Serial() string {
	return d.serial
}

// Layout returns the number of rows and columns of buttons on the device.
func (d *Deck) Layout() (rows, cols int) {
	return d.rows, d.cols
}

// Bounds returns the image bounds for buttons on the device. If the device
// is not visual an error is returned.
func (d *Deck) Bounds() (image.Rectangle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deck.Bounds()
}

// SetImage renders the provided image on the button at the given row and
// column.
func (d *Deck) SetImage(row, col int, img image.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deck.SetImage(row, col, img)
}

// SetBrightness sets the global screen brightness of the device.
func (d *Deck) SetBrightness(percent int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deck.SetBrightness(percent)
}

// Reset clears all button images and shows the standby image.
func (d *Deck) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deck.Reset()
}

// Close resets and closes the device.
func (d *Deck) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return errors.Join(d.deck.Reset(), d.deck.Close())
}

// WatchPresses calls fn with the row and column of each button press
// until ctx is cancelled or the device is closed. Key state reads are
// not serialised with other device operations since they block until
// a key event occurs.
func (d *Deck) WatchPresses(ctx context.Context, fn func(ctx context.Context, row, col int)) {
	log := d.log.WithGroup("watch_presses")
	log.LogAttrs(ctx, slog.LevelDebug, "start")
	last := make([]bool, d.rows*d.cols)
	for {
		states, err := d.deck.KeyStates()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.LogAttrs(ctx, slog.LevelDebug, "key states closed")
				return
			}
			select {
			case <-ctx.Done():
				log.LogAttrs(ctx, slog.LevelDebug, "stop")
				return
			default:
			}
			log.LogAttrs(ctx, slog.LevelError, "failed to get states", slog.Any("error", err))
			continue
		}
		select {
		case <-ctx.Done():
			log.LogAttrs(ctx, slog.LevelDebug, "stop")
			return
		default:
		}
		for i, pressed := range states {
			if i >= len(last) {
				break
			}
			if pressed && !last[i] {
				row, col := i/d.cols, i%d.cols
				log.LogAttrs(ctx, slog.LevelDebug, "press", slog.Int("row", row), slog.Int("col", col))
				fn(ctx, row, col)
			}
			last[i] = pressed
		}
	}
}

// ImageSetter is the destination of a Button's frames. *Deck is an
// ImageSetter.
type ImageSetter interface {
	SetImage(row, col int, img image.Image) error
}

// Button is a scheduler.Consumer that draws completed frames to a
// button on an ImageSetter.
type Button struct {
	dst      ImageSetter
	row, col int
	log      *slog.Logger

	mu  sync.Mutex
	img *image.NRGBA

	frames atomic.Int64
}

var _ scheduler.Consumer = (*Button)(nil)

// NewButton returns a Button drawing to the button at row and col of dst.
func NewButton(dst ImageSetter, row, col int, log *slog.Logger) *Button {
	return &Button{
		dst: dst,
		row: row,
		col: col,
		log: log.With(slog.String("component", "button"), slog.Int("row", row), slog.Int("col", col)),
	}
}

func (b *Button) SetDimensions(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.img != nil && b.img.Rect.Dx() == width && b.img.Rect.Dy() == height {
		return
	}
	b.img = image.NewNRGBA(image.Rect(0, 0, width, height))
}

func (b *Button) SetColorModel(m color.Model) {
	if m != color.NRGBAModel {
		b.log.LogAttrs(context.Background(), slog.LevelWarn, "unexpected color model")
	}
}

func (b *Button) SetHints(h scheduler.Hints) {
	b.log.LogAttrs(context.Background(), slog.LevelDebug, "hints", slog.Any("hints", slogext.Stringer{Stringer: h}))
}

func (b *Button) SetPixels(bounds image.Rectangle, pix []uint32, stride int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.img == nil {
		b.log.LogAttrs(context.Background(), slog.LevelError, "pixels before dimensions")
		return
	}
	bounds = bounds.Intersect(b.img.Rect)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := pix[(y-bounds.Min.Y)*stride:]
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			p := row[x-bounds.Min.X]
			i := b.img.PixOffset(x, y)
			b.img.Pix[i+0] = uint8(p >> 16)
			b.img.Pix[i+1] = uint8(p >> 8)
			b.img.Pix[i+2] = uint8(p)
			b.img.Pix[i+3] = uint8(p >> 24)
		}
	}
}

func (b *Button) ImageComplete(status scheduler.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.img == nil {
		return
	}
	b.frames.Add(1)
	err := b.dst.SetImage(b.row, b.col, b.img)
	if err != nil {
		b.log.LogAttrs(context.Background(), slog.LevelError, "set image", slog.Any("status", slogext.Stringer{Stringer: status}), slog.Any("error", err))
	}
}

// Frames returns the number of frames the button has drawn.
func (b *Button) Frames() int {
	return int(b.frames.Load())
}

// Image returns a copy of the button's most recent image.
func (b *Button) Image() image.Image {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.img == nil {
		return nil
	}
	img := *b.img
	img.Pix = append([]uint8(nil), b.img.Pix...)
	return &img
}

// Logger is a scheduler.Consumer that logs completed frames.
type Logger struct {
	name string
	log  *slog.Logger

	mu            sync.Mutex
	width, height int
	visible       int

	frames atomic.Int64
}

var _ scheduler.Consumer = (*Logger)(nil)

// NewLogger returns a Logger logging frames of the named animation at
// debug level.
func NewLogger(name string, log *slog.Logger) *Logger {
	return &Logger{
		name: name,
		log:  log.With(slog.String("component", "logger"), slog.String("name", name)),
	}
}

func (l *Logger) SetDimensions(width, height int) {
	l.mu.Lock()
	l.width, l.height = width, height
	l.mu.Unlock()
	l.log.LogAttrs(context.Background(), slog.LevelDebug, "dimensions", slog.Int("width", width), slog.Int("height", height))
}

func (l *Logger) SetColorModel(color.Model) {}

func (l *Logger) SetHints(h scheduler.Hints) {
	l.log.LogAttrs(context.Background(), slog.LevelDebug, "hints", slog.Any("hints", slogext.Stringer{Stringer: h}))
}

func (l *Logger) SetPixels(_ image.Rectangle, pix []uint32, _ int) {
	var n int
	for _, p := range pix {
		if p&0xff000000 != 0 {
			n++
		}
	}
	l.mu.Lock()
	l.visible = n
	l.mu.Unlock()
}

func (l *Logger) ImageComplete(status scheduler.Status) {
	n := l.frames.Add(1)
	l.mu.Lock()
	visible := l.visible
	l.mu.Unlock()
	l.log.LogAttrs(context.Background(), slog.LevelDebug, "frame",
		slog.Int64("count", n),
		slog.Int("visible", visible),
		slog.Any("status", slogext.Stringer{Stringer: status}),
	)
}

// Frames returns the number of frames the logger has seen.
func (l *Logger) Frames() int {
	return int(l.frames.Load())
}
