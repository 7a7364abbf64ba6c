// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a configuration change identified by a Watcher.
type Change struct {
	Event  []fsnotify.Event
	Config *Config
	Err    error
}

// Op returns an aggregated fsnotify.Op for all elements of the receivers'
// Event field.
func (c Change) Op() fsnotify.Op {
	var op fsnotify.Op
	for _, e := range c.Event {
		op |= e.Op
	}
	return op
}

// Watcher watches a single configuration file, sending semantically
// meaningful changes to a channel. The file's directory is watched so
// that renames by editors are seen as writes to the file.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	log      *slog.Logger

	mu   sync.Mutex
	last Sum

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher starts a Watcher for the configuration file at path, sending
// change events on the changes channel. The sum parameter is the hash of the
// currently loaded configuration; changes that do not alter the hash are not
// sent. The debounce parameter specifies how long to wait after an
// fsnotify.Event before reading the file. If it is less than zero,
// FileDebounce is used.
func NewWatcher(ctx context.Context, path string, sum Sum, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		watcher.Close()
		return nil, err
	}
	w := newWatcher(path, sum, changes, debounce, log)
	w.watcher = watcher
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go func() {
		defer close(w.done)
		w.process(ctx)
	}()
	return w, nil
}

func newWatcher(path string, sum Sum, changes chan<- Change, debounce time.Duration, log *slog.Logger) *Watcher {
	if debounce < 0 {
		debounce = FileDebounce
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		changes:  changes,
		last:     sum,
		log:      log.With(slog.String("component", "config_watcher")),
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

// process watches the Watcher's fsnotify.Watcher events performing
// filtering and sending changes.
func (w *Watcher) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			w.log.LogAttrs(ctx, slog.LevelDebug, "event", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
			if ev.Has(fsnotify.Write | fsnotify.Create) {
				time.Sleep(w.debounce)
			}
			c, ok := w.check(ctx, ev)
			if !ok {
				continue
			}
			w.log.LogAttrs(ctx, slog.LevelDebug, "change", slog.Any("change", changeValue{c}))
			w.send(ctx, c)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.send(ctx, Change{Err: err})
		}
	}
}

// check returns the change represented by ev and whether it should be
// sent. Rename and chmod events are ignored; the rename of a new file
// into place is seen as a create.
func (w *Watcher) check(ctx context.Context, ev fsnotify.Event) (Change, bool) {
	switch {
	case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
		fi, err := os.Stat(ev.Name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Change{}, false
			}
			return Change{Event: []fsnotify.Event{ev}, Err: err}, true
		}
		if fi.IsDir() {
			return Change{}, false
		}
		cfg, sum, err := Load(ev.Name)
		if err != nil {
			w.log.LogAttrs(ctx, slog.LevelWarn, "invalid configuration", slog.Any("error", err))
			return Change{Event: []fsnotify.Event{ev}, Err: err}, true
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if sum == w.last {
			w.log.LogAttrs(ctx, slog.LevelDebug, "no change", slog.String("sum", sum.String()))
			return Change{}, false
		}
		w.last = sum
		return Change{Event: []fsnotify.Event{ev}, Config: cfg}, true
	case ev.Has(fsnotify.Remove):
		w.mu.Lock()
		w.last = Sum{}
		w.mu.Unlock()
		return Change{Event: []fsnotify.Event{ev}}, true
	default:
		return Change{}, false
	}
}

func (w *Watcher) send(ctx context.Context, c Change) {
	select {
	case <-ctx.Done():
	case w.changes <- c:
	}
}
