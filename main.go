// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The animate executable plays animations to Stream Deck buttons, or to its
// log when no deck is configured, and provides a JSON RPC 2 control surface
// for setting the global pause mode.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/kortschak/ardilla"

	"github.com/kortschak/animate/internal/animation"
	"github.com/kortschak/animate/internal/config"
	"github.com/kortschak/animate/internal/device"
	"github.com/kortschak/animate/internal/scheduler"
	"github.com/kortschak/animate/internal/slogext"
	"github.com/kortschak/animate/internal/timer"
	"github.com/kortschak/animate/internal/version"
	"github.com/kortschak/animate/internal/xdg"
	"github.com/kortschak/animate/rpc"
)

// Exit status codes.
const (
	success       = 0
	internalError = 1 << (iota - 1)
	invocationError
)

func main() { os.Exit(Main()) }

func Main() int {
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	cfgPath := flag.String("config", "", "configuration file (default $XDG_CONFIG_HOME/animate/config.toml)")
	dump := flag.Bool("dump", false, "print a summary of each source argument and exit")
	v := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `Usage of %s:
  %[1]s [options]
  %[1]s -dump <source>...

Sources are image file paths or data URIs.

`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if *v {
		err := version.Print(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		return success
	}

	if *dump {
		if flag.NArg() == 0 {
			flag.Usage()
			return invocationError
		}
		return dumpSources(os.Stdout, os.Stderr, flag.Args())
	}
	if flag.NArg() != 0 {
		flag.Usage()
		return invocationError
	}

	var level slog.LevelVar
	err := level.UnmarshalText([]byte(*logging))
	if err != nil {
		flag.Usage()
		return invocationError
	}
	flagSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		flagSet[f.Name] = true
	})
	addSource := slogext.NewAtomicBool(*lines)

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d := &daemon{
		level:     &level,
		addSource: addSource,
		flagSet:   flagSet,
		log:       log,
		mlog:      log.With(slog.String("component", "main")),
	}
	err = d.run(ctx, *cfgPath)
	if err != nil {
		d.mlog.LogAttrs(ctx, slog.LevelError, "exit", slog.Any("error", err))
		return internalError
	}
	return success
}

// summary is the -dump description of a source.
type summary struct {
	Name      string   `json:"name"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	Frames    int      `json:"frames"`
	Delays    []string `json:"delays"`
	Visible   []int    `json:"visible"`
	Preferred int      `json:"preferred"`
}

// dumpSources writes a JSON summary of each source in srcs to stdout.
// Sources that fail to load are reported to stderr.
func dumpSources(stdout, stderr io.Writer, srcs []string) int {
	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	status := success
	for _, src := range srcs {
		l, err := device.Load(src, src, device.DefaultBounds, "")
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", src, err)
			status = internalError
			continue
		}
		err = enc.Encode(summarize(l))
		if err != nil {
			fmt.Fprintln(stderr, err)
			return internalError
		}
	}
	return status
}

func summarize(l *animation.List) summary {
	w, h := l.Size()
	s := summary{
		Name:      l.Name(),
		Width:     w,
		Height:    h,
		Frames:    l.FrameCount(),
		Preferred: l.PreferredPauseFrame(),
	}
	for _, f := range l.Frames() {
		s.Delays = append(s.Delays, f.Delay.String())
		s.Visible = append(s.Visible, f.VisiblePixelCount())
	}
	return s
}

// daemon is the running animation daemon.
type daemon struct {
	level     *slog.LevelVar
	addSource *atomic.Bool
	// flagSet holds the logging flags set on the
	// command line. These take precedence over the
	// configuration until the first reload.
	flagSet map[string]bool

	log  *slog.Logger
	mlog *slog.Logger

	deck  *device.Deck
	ctrl  *scheduler.Controller
	anims scheduler.Group
}

func (d *daemon) run(ctx context.Context, cfgPath string) error {
	runtimeDir, ok := xdg.RuntimeDir()
	if !ok {
		return errors.New("no xdg runtime directory")
	}
	runtimeDir = filepath.Join(runtimeDir, rpc.RuntimeDir)
	err := os.MkdirAll(runtimeDir, 0o700)
	if err != nil {
		return err
	}
	pidFile := filepath.Join(runtimeDir, "pid")
	fl := flock.New(pidFile)
	ok, err = fl.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("animate is already running")
	}
	defer func() {
		fl.Unlock()
		os.Remove(pidFile)
	}()
	err = os.WriteFile(pidFile, []byte(fmt.Sprintln(os.Getpid())), 0o600)
	if err != nil {
		return err
	}

	cfgPath, err = configPath(cfgPath)
	if err != nil {
		return err
	}
	cfg := config.Default()
	var sum config.Sum
	if cfgPath != "" {
		cfg, sum, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		d.mlog.LogAttrs(ctx, slog.LevelInfo, "loaded config", slog.String("path", cfgPath), slog.String("sum", sum.String()))
	} else {
		d.mlog.LogAttrs(ctx, slog.LevelInfo, "no config file, using defaults")
	}
	d.applyLogging(cfg)

	if cfg.Network == "unix" && cfg.Addr == "" {
		// We hold the pid lock, so any socket left
		// in the runtime directory is stale.
		sock := filepath.Join(runtimeDir, rpc.SocketName)
		err = os.Remove(sock)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	pool := timer.NewPool(cfg.Workers, d.log)
	defer pool.Close()

	d.ctrl, err = scheduler.NewController(cfg.Pause, d.log)
	if err != nil {
		return err
	}

	bounds := device.DefaultBounds
	if cfg.Deck != nil {
		d.deck, err = device.OpenDeck(ardilla.PID(cfg.Deck.PID), cfg.Deck.Serial, d.log)
		if err != nil {
			return err
		}
		defer func() {
			err := d.deck.Close()
			if err != nil {
				d.mlog.LogAttrs(ctx, slog.LevelWarn, "close deck", slog.Any("error", err))
			}
		}()
		if cfg.Deck.Brightness != nil {
			err = d.deck.SetBrightness(*cfg.Deck.Brightness)
			if err != nil {
				d.mlog.LogAttrs(ctx, slog.LevelWarn, "set brightness", slog.Any("error", err))
			}
		}
		bounds, err = d.deck.Bounds()
		if err != nil {
			return err
		}
	}

	datadir := cfg.DataDir
	if datadir == "" && cfgPath != "" {
		datadir = filepath.Dir(cfgPath)
	}
	d.start(ctx, cfg, pool, bounds, datadir)
	defer func() {
		for _, s := range d.anims {
			s.Close()
		}
		// Wait for in-flight ticks before the deck is closed.
		pool.Close()
	}()

	if d.deck != nil && cfg.Deck.Toggle != "" {
		toggle, err := scheduler.ParseMode(cfg.Deck.Toggle)
		if err != nil {
			return err
		}
		go d.deck.WatchPresses(ctx, func(ctx context.Context, row, col int) {
			mode := toggle
			if d.ctrl.Mode() != scheduler.Running {
				mode = scheduler.Running
			}
			d.mlog.LogAttrs(ctx, slog.LevelInfo, "button toggle", slog.Int("row", row), slog.Int("col", col), slog.Any("mode", slogext.Stringer{Stringer: mode}))
			d.setMode(ctx, mode)
		})
	}

	ver, err := version.String()
	if err != nil {
		ver = err.Error()
	}
	srv, err := rpc.NewServer(ctx, cfg.Network, cfg.Addr, ver, d.ctrl, d.anims, d.log)
	if err != nil {
		return err
	}
	defer func() {
		err := srv.Close()
		if err != nil {
			d.mlog.LogAttrs(ctx, slog.LevelWarn, "close server", slog.Any("error", err))
		}
	}()

	var changes chan config.Change
	if cfgPath != "" {
		changes = make(chan config.Change)
		w, err := config.NewWatcher(ctx, cfgPath, sum, changes, -1, d.log)
		if err != nil {
			return err
		}
		defer w.Close()
	}

	d.mlog.LogAttrs(ctx, slog.LevelInfo, "start", slog.Int("animations", len(d.anims)), slog.Any("addr", slogext.Stringer{Stringer: srv.Addr()}))
	for {
		select {
		case <-ctx.Done():
			d.mlog.LogAttrs(context.Background(), slog.LevelInfo, "terminating")
			return nil
		case c := <-changes:
			d.reload(ctx, c)
		}
	}
}

// configPath returns the configuration file path to use. If path is empty
// the default location is searched, and an empty path is returned if no
// configuration file exists.
func configPath(path string) (string, error) {
	if path != "" {
		return filepath.Abs(path)
	}
	path, err := xdg.Config(filepath.Join("animate", "config.toml"), false)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}

// start creates and starts a scheduler for each configured animation.
func (d *daemon) start(ctx context.Context, cfg *config.Config, pool *timer.Pool, bounds image.Rectangle, datadir string) {
	var rows, cols int
	if d.deck != nil {
		rows, cols = d.deck.Layout()
	}
	for _, a := range cfg.Animations {
		alog := d.mlog.With(slog.String("name", a.Name))
		l, err := device.Load(a.Name, a.Source, bounds, datadir)
		if err != nil {
			alog.LogAttrs(ctx, slog.LevelError, "load animation", slog.Any("error", err))
			l, err = device.ErrorList(a.Name, err, bounds)
			if err != nil {
				alog.LogAttrs(ctx, slog.LevelError, "render error", slog.Any("error", err))
				continue
			}
		}
		if a.Preferred != nil {
			err = l.SetPreferredPauseFrame(*a.Preferred)
			if err != nil {
				alog.LogAttrs(ctx, slog.LevelWarn, "preferred pause frame", slog.Any("error", err))
			}
		}

		var c scheduler.Consumer
		if d.deck != nil {
			if a.Row >= rows || a.Col >= cols {
				alog.LogAttrs(ctx, slog.LevelError, "button out of range", slog.Int("row", a.Row), slog.Int("col", a.Col), slog.Int("rows", rows), slog.Int("cols", cols))
				continue
			}
			c = device.NewButton(d.deck, a.Row, a.Col, d.log)
		} else {
			c = device.NewLogger(a.Name, d.log)
		}
		s := scheduler.New(l, pool, d.ctrl, cfg.Options(), d.log)
		d.anims = append(d.anims, s)
		s.Attach(c)
		alog.LogAttrs(ctx, slog.LevelDebug, "started animation", slog.Int("frames", l.FrameCount()))
	}
}

// reload applies the live-reloadable parts of a configuration change.
func (d *daemon) reload(ctx context.Context, c config.Change) {
	switch {
	case c.Err != nil:
		d.mlog.LogAttrs(ctx, slog.LevelWarn, "config change error", slog.Any("error", c.Err))
		return
	case c.Config == nil:
		d.mlog.LogAttrs(ctx, slog.LevelWarn, "config removed", slog.String("op", c.Op().String()))
		return
	}
	d.mlog.LogAttrs(ctx, slog.LevelInfo, "config change", slog.String("op", c.Op().String()))
	clear(d.flagSet)
	d.applyLogging(c.Config)
	d.setMode(ctx, c.Config.Pause)
}

func (d *daemon) applyLogging(cfg *config.Config) {
	if !d.flagSet["log"] {
		d.level.Set(cfg.LogLevel)
	}
	if !d.flagSet["lines"] {
		d.addSource.Store(cfg.LogAddSource)
	}
}

func (d *daemon) setMode(ctx context.Context, mode scheduler.Mode) {
	prev, err := d.ctrl.SetMode(mode)
	if err != nil {
		d.mlog.LogAttrs(ctx, slog.LevelError, "set pause mode", slog.Any("error", err))
		return
	}
	if prev != mode {
		d.mlog.LogAttrs(ctx, slog.LevelInfo, "pause mode", slog.Any("mode", slogext.Stringer{Stringer: mode}), slog.Any("previous", slogext.Stringer{Stringer: prev}))
	}
}
