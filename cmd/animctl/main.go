// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The animctl executable controls a running animate daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kortschak/animate/internal/scheduler"
	"github.com/kortschak/animate/internal/version"
	"github.com/kortschak/animate/rpc"
)

// Exit status codes.
const (
	success       = 0
	internalError = 1 << (iota - 1)
	invocationError
)

func main() {
	os.Exit(run(context.Background(), os.Args[0], os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(stderr)
	network := flags.String("network", "unix", "network for communication (unix or tcp)")
	addr := flags.String("addr", "", "address for communication (default $XDG_RUNTIME_DIR/animate/control for unix)")
	timeout := flags.Duration("timeout", 5*time.Second, "time to wait for a response")
	v := flags.Bool("version", false, "print version and exit")
	flags.Usage = func() {
		fmt.Fprintf(stderr, `Usage of %s:
  %[1]s [options] pause <running|first|current|preferred>
  %[1]s [options] mode
  %[1]s [options] state [name]
  %[1]s [options] who

`, name)
		flags.PrintDefaults()
	}
	err := flags.Parse(args)
	if err != nil {
		return invocationError
	}
	if *v {
		err := version.Print(stdout)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return internalError
		}
		return success
	}

	cmd := flags.Args()
	if len(cmd) == 0 {
		flags.Usage()
		return invocationError
	}
	var mode scheduler.Mode
	switch cmd[0] {
	case "pause":
		if len(cmd) != 2 {
			flags.Usage()
			return invocationError
		}
		mode, err = scheduler.ParseMode(cmd[1])
		if err != nil {
			fmt.Fprintln(stderr, err)
			return invocationError
		}
	case "mode", "who":
		if len(cmd) != 1 {
			flags.Usage()
			return invocationError
		}
	case "state":
		if len(cmd) > 2 {
			flags.Usage()
			return invocationError
		}
	default:
		flags.Usage()
		return invocationError
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	c, err := rpc.Dial(ctx, *network, *addr)
	if err != nil {
		fmt.Fprintf(stderr, "failed to connect: %v\n", err)
		return internalError
	}
	defer c.Close()

	switch cmd[0] {
	case "pause":
		prev, err := c.SetPause(ctx, mode)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return internalError
		}
		fmt.Fprintf(stdout, "%v -> %v\n", prev, mode)
	case "mode":
		m, err := c.Mode(ctx)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return internalError
		}
		fmt.Fprintln(stdout, m)
	case "who":
		ver, err := c.Version(ctx)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return internalError
		}
		fmt.Fprintln(stdout, ver)
	case "state":
		var name string
		if len(cmd) == 2 {
			name = cmd[1]
		}
		states, err := c.State(ctx, name)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return internalError
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "\t")
		err = enc.Encode(states)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return internalError
		}
	}
	return success
}
