/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package testserver spins up a real TCP listener backed by an
// httpd.Server so tests exercise the engine end-to-end against real
// sockets rather than mocking the socket layer.
package testserver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coreware/httpd"
	"github.com/coreware/httpd/config"
)

// Server is a running httpd.Server on an ephemeral loopback port,
// plus the tools a test needs to talk to it.
type Server struct {
	Addr string

	t   *testing.T
	srv *httpd.Server
	ln  net.Listener
}

// Start builds and serves an httpd.Server with cfg (its host/port are
// ignored; the server runs on an ephemeral loopback listener) and handler, and
// arranges for it to be closed when the test ends.
func Start(t *testing.T, cfg *config.Config, handler httpd.Handler) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := httpd.New(cfg, handler)
	go srv.Serve(ln)

	s := &Server{Addr: ln.Addr().String(), t: t, srv: srv, ln: ln}
	t.Cleanup(func() { srv.Close() })
	return s
}

// Dial opens a plain TCP connection to the running server.
func (s *Server) Dial() net.Conn {
	s.t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr, 2*time.Second)
	require.NoError(s.t, err)
	return conn
}

// SendAndRead writes raw bytes to conn and reads until
// the peer closes or deadline elapses, returning everything read.
func SendAndRead(t *testing.T, conn net.Conn, raw string, readDeadline time.Duration) []byte {
	t.Helper()
	_, err := conn.Write([]byte(raw))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	return buf
}
