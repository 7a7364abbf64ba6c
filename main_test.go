// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rogpeppe/go-internal/testscript"

	"github.com/kortschak/animate/internal/animation"
	"github.com/kortschak/animate/internal/scheduler"
	"github.com/kortschak/animate/rpc"
)

var (
	update = flag.Bool("update", false, "update tests")
	keep   = flag.Bool("keep", false, "keep $WORK directory after tests")
)

func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"animate": Main,
		"ctl":     ctl,
	}))
}

func TestScripts(t *testing.T) {
	t.Parallel()

	p := testscript.Params{
		Dir:           filepath.Join("testdata"),
		UpdateScripts: *update,
		TestWork:      *keep,
		Setup: func(env *testscript.Env) error {
			run := filepath.Join(env.WorkDir, "run")
			env.Setenv("XDG_RUNTIME_DIR", run)
			env.Setenv("XDG_CONFIG_HOME", filepath.Join(env.WorkDir, "config"))
			return os.MkdirAll(run, 0o700)
		},
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			"sleep": sleep,
		},
	}
	testscript.Run(t, p)
}

func sleep(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! sleep")
	}
	if len(args) != 1 {
		ts.Fatalf("usage: sleep duration")
	}
	d, err := time.ParseDuration(args[0])
	ts.Check(err)
	time.Sleep(d)
}

// ctl is a minimal control client for the daemon listening on the
// default unix socket.
func ctl() int {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ctl mode|pause <mode>|state [name]")
		return 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		c   *rpc.Client
		err error
	)
	for {
		c, err = rpc.Dial(ctx, "unix", "")
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "failed dial: %v\n", err)
			return 1
		case <-time.After(50 * time.Millisecond):
		}
	}
	defer c.Close()

	switch flag.Arg(0) {
	case "mode":
		m, err := c.Mode(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println(m)
	case "pause":
		m, err := scheduler.ParseMode(flag.Arg(1))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		prev, err := c.SetPause(ctx, m)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println(prev)
	case "state":
		states, err := c.State(ctx, flag.Arg(1))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		json.NewEncoder(os.Stdout).Encode(states)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		return 2
	}
	return 0
}

func TestSummarize(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.White)
	l, err := animation.NewList("test", []*animation.Frame{
		animation.NewFrame(image.NewNRGBA(image.Rect(0, 0, 2, 1)), 20*time.Millisecond),
		animation.NewFrame(img, 30*time.Millisecond),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := summarize(l)
	want := summary{
		Name:      "test",
		Width:     2,
		Height:    1,
		Frames:    2,
		Delays:    []string{"20ms", "30ms"},
		Visible:   []int{0, 1},
		Preferred: 1,
	}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected summary:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}

func TestDumpSources(t *testing.T) {
	var stdout, stderr bytes.Buffer
	status := dumpSources(&stdout, &stderr, []string{
		"data:image/png;name,red",
		filepath.Join(t.TempDir(), "missing.gif"),
	})
	if status != internalError {
		t.Errorf("unexpected status: got:%d want:%d", status, internalError)
	}
	var got summary
	err := json.Unmarshal(stdout.Bytes(), &got)
	if err != nil {
		t.Fatalf("unexpected error decoding summary: %v\n%s", err, &stdout)
	}
	want := summary{
		Name:      "data:image/png;name,red",
		Width:     72,
		Height:    72,
		Frames:    1,
		Delays:    []string{"0s"},
		Visible:   []int{72 * 72},
		Preferred: 0,
	}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected summary:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
	if !bytes.Contains(stderr.Bytes(), []byte("missing.gif")) {
		t.Errorf("expected missing file error: got:%s", &stderr)
	}
}
