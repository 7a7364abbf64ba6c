// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"net"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/animate/internal/scheduler"
)

// Client is a control client for an animation daemon.
type Client struct {
	conn *jsonrpc2.Connection
}

// Dial returns a new Client connected to the daemon listening on the
// given network and address. If addr is empty, DefaultAddr is used.
func Dial(ctx context.Context, network, addr string) (*Client, error) {
	if addr == "" {
		var err error
		addr, err = DefaultAddr(network)
		if err != nil {
			return nil, err
		}
	}
	conn, err := jsonrpc2.Dial(ctx, jsonrpc2.NetDialer(network, addr, net.Dialer{}), jsonrpc2.ConnectionOptions{})
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Version returns the daemon's version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var resp Message[string]
	err := c.conn.Call(ctx, Who, NewMessage(None{})).Await(ctx, &resp)
	return resp.Body, err
}

// SetPause sets the daemon's global pause mode, returning the previous mode.
func (c *Client) SetPause(ctx context.Context, mode scheduler.Mode) (prev scheduler.Mode, err error) {
	var resp Message[int]
	err = c.conn.Call(ctx, Pause, NewMessage(int(mode))).Await(ctx, &resp)
	if err != nil {
		return 0, err
	}
	return scheduler.Mode(resp.Body), nil
}

// Mode returns the daemon's global pause mode.
func (c *Client) Mode(ctx context.Context) (scheduler.Mode, error) {
	var resp Message[int]
	err := c.conn.Call(ctx, Mode, NewMessage(None{})).Await(ctx, &resp)
	if err != nil {
		return 0, err
	}
	return scheduler.Mode(resp.Body), nil
}

// State returns the state of the named animation, or of all animations
// if name is empty.
func (c *Client) State(ctx context.Context, name string) ([]scheduler.State, error) {
	var resp Message[[]scheduler.State]
	err := c.conn.Call(ctx, State, NewMessage(name)).Await(ctx, &resp)
	return resp.Body, err
}

// Close closes the client's connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
