// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"encoding/json"
	"testing"
)

var parseModeTests = []struct {
	in      string
	want    Mode
	wantErr bool
}{
	{in: "running", want: Running},
	{in: "first", want: PauseToFirstFrame},
	{in: "current", want: PauseToCurrentFrame},
	{in: "preferred", want: PauseToPreferredFrame},
	{in: "-1", want: Running},
	{in: "0", want: PauseToFirstFrame},
	{in: "2", want: PauseToPreferredFrame},
	{in: "3", wantErr: true},
	{in: "stopped", wantErr: true},
	{in: "", wantErr: true},
}

func TestParseMode(t *testing.T) {
	for _, test := range parseModeTests {
		got, err := ParseMode(test.in)
		if (err != nil) != test.wantErr {
			t.Errorf("unexpected error for %q: got:%v want error:%t", test.in, err, test.wantErr)
			continue
		}
		if err == nil && got != test.want {
			t.Errorf("unexpected mode for %q: got:%v want:%v", test.in, got, test.want)
		}
	}
}

func TestModeString(t *testing.T) {
	for m, want := range map[Mode]string{
		Running:               "running",
		PauseToFirstFrame:     "first",
		PauseToCurrentFrame:   "current",
		PauseToPreferredFrame: "preferred",
		Mode(9):               "Mode(9)",
	} {
		if got := m.String(); got != want {
			t.Errorf("unexpected string for %d: got:%q want:%q", int(m), got, want)
		}
	}
}

func TestModeJSON(t *testing.T) {
	b, err := json.Marshal(struct{ Mode Mode }{PauseToCurrentFrame})
	if err != nil {
		t.Fatalf("unexpected error marshaling mode: %v", err)
	}
	if got, want := string(b), `{"Mode":1}`; got != want {
		t.Errorf("unexpected JSON: got:%s want:%s", got, want)
	}

	for _, test := range []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: `-1`, want: Running},
		{in: `2`, want: PauseToPreferredFrame},
		{in: `"first"`, want: PauseToFirstFrame},
		{in: `5`, wantErr: true},
		{in: `"sideways"`, wantErr: true},
		{in: `true`, wantErr: true},
	} {
		var got Mode
		err := json.Unmarshal([]byte(test.in), &got)
		if (err != nil) != test.wantErr {
			t.Errorf("unexpected error for %s: got:%v want error:%t", test.in, err, test.wantErr)
			continue
		}
		if err == nil && got != test.want {
			t.Errorf("unexpected mode for %s: got:%v want:%v", test.in, got, test.want)
		}
	}
}

func TestController(t *testing.T) {
	_, err := NewController(Mode(4), nil)
	if err == nil {
		t.Error("expected error for invalid initial mode")
	}

	c, err := NewController(Running, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prev, err := c.SetMode(Mode(-2))
	if err == nil {
		t.Error("expected error for invalid mode")
	}
	if prev != Running || c.Mode() != Running {
		t.Errorf("unexpected mode after invalid set: prev=%v mode=%v", prev, c.Mode())
	}
	prev, err = c.SetMode(PauseToPreferredFrame)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if prev != Running {
		t.Errorf("unexpected previous mode: got:%v want:%v", prev, Running)
	}
	if got := c.Mode(); got != PauseToPreferredFrame {
		t.Errorf("unexpected mode: got:%v want:%v", got, PauseToPreferredFrame)
	}
	if got := c.Parked(); got != 0 {
		t.Errorf("unexpected parked count: got:%d want:0", got)
	}
}
