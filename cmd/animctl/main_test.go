// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"image"
	"image/color"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/animate/internal/animation"
	"github.com/kortschak/animate/internal/locked"
	"github.com/kortschak/animate/internal/scheduler"
	"github.com/kortschak/animate/internal/slogext"
	"github.com/kortschak/animate/internal/timer"
	"github.com/kortschak/animate/rpc"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

func TestRun(t *testing.T) {
	var logBuf locked.BytesBuffer
	log := slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
	defer func() {
		if *verbose {
			t.Logf("log:\n%s\n", &logBuf)
		}
	}()

	ctx := context.Background()
	pool := timer.NewPool(1, log)
	defer pool.Close()
	ctrl, err := scheduler.NewController(scheduler.Running, log)
	if err != nil {
		t.Fatalf("failed to make controller: %v", err)
	}
	src, err := animation.Text("hi").List("hi", image.Rect(0, 0, 72, 72), color.White, color.Black)
	if err != nil {
		t.Fatalf("failed to make animation: %v", err)
	}
	anims := scheduler.Group{scheduler.New(src, pool, ctrl, scheduler.Options{}, log)}
	srv, err := rpc.NewServer(ctx, "tcp", "", "v0.0.0-test", ctrl, anims, log)
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Close()
	addr := srv.Addr().String()

	for _, test := range []struct {
		name       string
		args       []string
		wantStatus int
		wantStdout string
		wantStderr string
		wantMode   scheduler.Mode
	}{
		{
			name:       "no_command",
			args:       nil,
			wantStatus: invocationError,
			wantStderr: "Usage of animctl",
			wantMode:   scheduler.Running,
		},
		{
			name:       "who",
			args:       []string{"who"},
			wantStdout: "v0.0.0-test\n",
			wantMode:   scheduler.Running,
		},
		{
			name:       "mode",
			args:       []string{"mode"},
			wantStdout: "running\n",
			wantMode:   scheduler.Running,
		},
		{
			name:       "pause_current",
			args:       []string{"pause", "current"},
			wantStdout: "running -> current\n",
			wantMode:   scheduler.PauseToCurrentFrame,
		},
		{
			name:       "pause_number",
			args:       []string{"pause", "2"},
			wantStdout: "current -> preferred\n",
			wantMode:   scheduler.PauseToPreferredFrame,
		},
		{
			name:       "pause_invalid",
			args:       []string{"pause", "sideways"},
			wantStatus: invocationError,
			wantStderr: `invalid pause mode: "sideways"`,
			wantMode:   scheduler.PauseToPreferredFrame,
		},
		{
			name:       "resume",
			args:       []string{"pause", "running"},
			wantStdout: "preferred -> running\n",
			wantMode:   scheduler.Running,
		},
		{
			name:       "missing_state",
			args:       []string{"state", "bye"},
			wantStatus: internalError,
			wantStderr: `no animation "bye"`,
			wantMode:   scheduler.Running,
		},
		{
			name:       "unknown",
			args:       []string{"reboot"},
			wantStatus: invocationError,
			wantStderr: "Usage of animctl",
			wantMode:   scheduler.Running,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			args := append([]string{"-network", "tcp", "-addr", addr}, test.args...)
			status := run(ctx, "animctl", args, &stdout, &stderr)
			if status != test.wantStatus {
				t.Errorf("unexpected status: got:%d want:%d\nstderr:\n%s", status, test.wantStatus, &stderr)
			}
			if test.wantStdout != "" && stdout.String() != test.wantStdout {
				t.Errorf("unexpected stdout: got:%q want:%q", &stdout, test.wantStdout)
			}
			if !strings.Contains(stderr.String(), test.wantStderr) {
				t.Errorf("unexpected stderr: got:%q want substring:%q", &stderr, test.wantStderr)
			}
			if got := ctrl.Mode(); got != test.wantMode {
				t.Errorf("unexpected mode: got:%v want:%v", got, test.wantMode)
			}
		})
	}

	t.Run("state", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		status := run(ctx, "animctl", []string{"-network", "tcp", "-addr", addr, "state"}, &stdout, &stderr)
		if status != success {
			t.Fatalf("unexpected status: got:%d want:%d\nstderr:\n%s", status, success, &stderr)
		}
		var got []scheduler.State
		err := json.Unmarshal(stdout.Bytes(), &got)
		if err != nil {
			t.Fatalf("unexpected error decoding state: %v", err)
		}
		want := []scheduler.State{{Name: "hi", Index: -1, Frames: 1}}
		if !cmp.Equal(want, got) {
			t.Errorf("unexpected state:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
		}
	})
}
