// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slogext

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestJSONHandlerAddSource(t *testing.T) {
	var buf bytes.Buffer
	addSource := NewAtomicBool(false)
	log := slog.New(GoID{NewJSONHandler(&buf, &HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: addSource,
	})}).With(slog.String("component", "test"))

	log.Debug("without")
	addSource.Store(true)
	log.Debug("with")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected number of log lines: got:%d want:2\n%s", len(lines), &buf)
	}
	for i, wantSource := range []bool{false, true} {
		var rec map[string]any
		err := json.Unmarshal([]byte(lines[i]), &rec)
		if err != nil {
			t.Fatalf("unexpected error unmarshaling log line %d: %v", i, err)
		}
		if _, ok := rec[slog.SourceKey]; ok != wantSource {
			t.Errorf("unexpected source presence for line %d: got:%t want:%t", i, ok, wantSource)
		}
		if rec["component"] != "test" {
			t.Errorf("missing component attribute in line %d: %v", i, rec)
		}
		if _, ok := rec["goid"]; !ok {
			t.Errorf("missing goid attribute in line %d: %v", i, rec)
		}
	}
}

func TestJSONHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	var level slog.LevelVar
	level.Set(slog.LevelInfo)
	log := slog.New(NewJSONHandler(&buf, &HandlerOptions{Level: &level}))
	log.Debug("dropped")
	if buf.Len() != 0 {
		t.Errorf("unexpected debug output at info level: %s", &buf)
	}
	level.Set(slog.LevelDebug)
	log.Debug("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("expected debug output after level change: %q", &buf)
	}
}

func TestStringer(t *testing.T) {
	if got := (Stringer{}).LogValue().String(); got != "<nil>" {
		t.Errorf("unexpected nil stringer value: got:%q want:%q", got, "<nil>")
	}
	if got := (Stringer{time.Second}).LogValue().String(); got != "1s" {
		t.Errorf("unexpected stringer value: got:%q want:%q", got, "1s")
	}
}
