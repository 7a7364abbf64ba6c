// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/animate/internal/scheduler"
	"github.com/kortschak/animate/internal/slogext"
	"github.com/kortschak/animate/internal/xdg"
)

// RuntimeDir is the path within XDG_RUNTIME_DIR that the control socket
// is created in if the unix network is used for communication.
const RuntimeDir = "animate"

// SocketName is the default control socket name.
const SocketName = "control"

// DefaultAddr returns the default address for the provided network.
func DefaultAddr(network string) (string, error) {
	switch network {
	case "unix":
		dir, ok := xdg.RuntimeDir()
		if !ok {
			return "", errors.New("no xdg runtime directory")
		}
		return filepath.Join(dir, RuntimeDir, SocketName), nil
	case "tcp":
		return "localhost:0", nil
	default:
		return "", fmt.Errorf("invalid network: %q", network)
	}
}

// Server is a JSON RPC 2 control server for a set of animations.
type Server struct {
	listener *netListener
	server   *jsonrpc2.Server
	network  string
	addr     string
	version  string

	ctrl  *scheduler.Controller
	anims scheduler.Group

	log *slog.Logger
}

// NewServer returns a new Server listening on the provided network which
// may be either "unix" or "tcp". If addr is empty, DefaultAddr is used.
// The server reports version in response to who calls.
func NewServer(ctx context.Context, network, addr, version string, ctrl *scheduler.Controller, anims scheduler.Group, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := Server{
		network: network,
		version: version,
		ctrl:    ctrl,
		anims:   anims,
		log:     log.With(slog.String("component", "rpc")),
	}
	if addr == "" {
		var err error
		addr, err = DefaultAddr(network)
		if err != nil {
			return nil, err
		}
	}
	if network == "unix" {
		err := os.MkdirAll(filepath.Dir(addr), 0o700)
		if err != nil {
			return nil, fmt.Errorf("failed to create runtime directory: %w", err)
		}
		s.log.LogAttrs(ctx, slog.LevelDebug, "control socket", slog.String("path", addr))
	}

	s.addr = addr

	var err error
	s.listener, err = newNetListener(ctx, network, addr, jsonrpc2.NetListenOptions{})
	if err != nil {
		return nil, err
	}
	s.server = jsonrpc2.NewServer(ctx, s.listener, &s)

	s.log.LogAttrs(ctx, slog.LevelInfo, "listening", slog.String("network", s.network), slog.Any("addr", slogext.Stringer{Stringer: s.listener.Addr()}))
	return &s, nil
}

// Addr returns the listener address of the server.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Bind binds the server's handler to a connection.
func (s *Server) Bind(ctx context.Context, conn *jsonrpc2.Connection) jsonrpc2.ConnectionOptions {
	s.log.LogAttrs(ctx, slog.LevelDebug, "binding")
	return jsonrpc2.ConnectionOptions{
		Handler: s,
	}
}

// Handle is the server's message handler.
func (s *Server) Handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	s.log.LogAttrs(ctx, slog.LevelDebug, "handle", slog.Any("req", slogext.Request{Request: req}))

	switch req.Method {
	case Who:
		var m Message[None]
		err := UnmarshalMessage(req.Params, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			return nil, err
		}
		if !req.IsCall() {
			s.log.LogAttrs(ctx, slog.LevelWarn, "downgrading call to notify", slog.String("method", req.Method))
			return nil, nil
		}
		return NewMessage(s.version), nil

	case Pause:
		var m Message[int]
		err := UnmarshalMessage(req.Params, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			return nil, err
		}
		return s.pause(ctx, req, m)

	case Mode:
		var m Message[None]
		err := UnmarshalMessage(req.Params, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			return nil, err
		}
		mode := s.ctrl.Mode()
		if !req.IsCall() {
			s.log.LogAttrs(ctx, slog.LevelInfo, "mode request", slog.Any("mode", slogext.Stringer{Stringer: mode}))
			return nil, nil
		}
		return NewMessage(int(mode)), nil

	case State:
		var m Message[string]
		err := UnmarshalMessage(req.Params, &m)
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, req.Method, slog.Any("error", err))
			return nil, err
		}
		return s.state(ctx, req, m)

	default:
		return nil, jsonrpc2.ErrNotHandled
	}
}

func (s *Server) pause(ctx context.Context, req *jsonrpc2.Request, m Message[int]) (any, error) {
	s.log.LogAttrs(ctx, slog.LevelDebug, req.Method, slog.Any("message", m))
	mode := scheduler.Mode(m.Body)
	if !mode.Valid() {
		return nil, NewError(ErrCodeInvalidMessage,
			fmt.Sprintf("invalid pause mode: %d", m.Body),
			map[string]any{
				"type": ErrCodeParameters,
				"mode": m.Body,
			},
		)
	}
	prev, err := s.ctrl.SetMode(mode)
	if err != nil {
		return nil, NewError(ErrCodeInternal, err.Error(), nil)
	}
	s.log.LogAttrs(ctx, slog.LevelInfo, "set pause mode", slog.Any("mode", slogext.Stringer{Stringer: mode}), slog.Any("previous", slogext.Stringer{Stringer: prev}))
	if !req.IsCall() {
		return nil, nil
	}
	return NewMessage(int(prev)), nil
}

func (s *Server) state(ctx context.Context, req *jsonrpc2.Request, m Message[string]) (any, error) {
	s.log.LogAttrs(ctx, slog.LevelDebug, req.Method, slog.Any("message", m))
	var states []scheduler.State
	if m.Body == "" {
		states = s.anims.States()
	} else {
		anim, ok := s.anims.Lookup(m.Body)
		if !ok {
			return nil, NewError(ErrCodeNotFound,
				fmt.Sprintf("no animation %q", m.Body),
				map[string]any{
					"name": m.Body,
				},
			)
		}
		states = []scheduler.State{anim.State()}
	}
	if !req.IsCall() {
		s.log.LogAttrs(ctx, slog.LevelInfo, "state request", slog.Any("state", states))
		return nil, nil
	}
	return NewMessage(states), nil
}

// Close closes the server. If the server is listening on a unix
// socket, the socket file is removed.
func (s *Server) Close() error {
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "close")
	s.server.Shutdown()
	err := s.server.Wait()
	if s.network == "unix" {
		rerr := os.Remove(s.addr)
		if rerr != nil && !errors.Is(rerr, fs.ErrNotExist) && err == nil {
			err = rerr
		}
	}
	return err
}
