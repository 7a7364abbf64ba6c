// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"io"
	"net"

	"github.com/kortschak/jsonrpc2"
)

// netListener is a jsonrpc2.Listener for connections made using the net package.
type netListener struct {
	net net.Listener
}

// newNetListener returns a new netListener listening on the given network
// and address.
func newNetListener(ctx context.Context, network, address string, options jsonrpc2.NetListenOptions) (*netListener, error) {
	ln, err := options.NetListenConfig.Listen(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return &netListener{net: ln}, nil
}

func (l *netListener) Addr() net.Addr {
	return l.net.Addr()
}

func (l *netListener) Accept(context.Context) (io.ReadWriteCloser, error) {
	return l.net.Accept()
}

// Close stops listening. Accepted connections are not closed.
func (l *netListener) Close() error {
	return l.net.Close()
}

// Dialer returns a nil jsonrpc2.Dialer.
func (l *netListener) Dialer() jsonrpc2.Dialer {
	return nil
}
