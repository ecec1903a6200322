/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package httpd is an embeddable HTTP/1.1 server library: a host
// supplies a Handler and a Config, and Server accepts TCP (optionally
// TLS) connections, wiring each one to a fresh Connection that parses
// requests, dispatches them to the handler, and writes responses
// back, honoring pipelining, keep-alive and the three-phase timeout
// regime. A host that wants path-based dispatch constructs a
// router.Router (which itself implements Handler) and passes it here
// as handler, rather than threading routing through as a side channel.
package httpd

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/coreware/httpd/config"
	"github.com/coreware/httpd/srvlog"
	"github.com/coreware/httpd/status"
)

// ErrServerClosed is returned by Serve/ListenAndServe after Close or
// Shutdown.
var ErrServerClosed = errors.New("httpd: Server closed")

// Server accepts sockets, caps concurrent connections, rejects excess
// with a synthesized 503, loads TLS material once at construction,
// and forwards every accepted socket to a freshly constructed
// Connection.
type Server struct {
	cfg     *config.Config
	handler Handler
	log     *zap.Logger

	tlsConfig *tls.Config // nil if TLS material failed to load

	mu         sync.Mutex
	listeners  map[net.Listener]struct{}
	activeConn map[*Connection]struct{}
	doneChan   chan struct{}

	connCount int32
}

// New builds a Server from cfg and handler. handler may be a
// *router.Router for path-based dispatch per spec.md §4.4, or any
// other Handler.
func New(cfg *config.Config, handler Handler) *Server {
	log := srvlog.New(cfg.Verbosity)
	s := &Server{
		cfg:        cfg,
		handler:    handler,
		log:        log,
		listeners:  make(map[net.Listener]struct{}),
		activeConn: make(map[*Connection]struct{}),
	}
	s.tlsConfig = loadTLSConfig(cfg, log)
	return s
}

// loadTLSConfig loads the PEM certificate + key named in cfg. Any
// failure (missing file, unreadable file, invalid material) disables
// TLS with a warning; it is never a fatal error, per spec.md §6.
func loadTLSConfig(cfg *config.Config, log *zap.Logger) *tls.Config {
	if cfg.SSLCertPath == "" || cfg.SSLKeyPath == "" {
		return nil
	}
	cert, err := loadKeyPair(cfg)
	if err != nil {
		log.Warn("TLS disabled: failed to load certificate material", zap.Error(err))
		return nil
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert, // VerifyNone per spec.md §6
		MinVersion:   tls.VersionTLS12,
	}
}

func loadKeyPair(cfg *config.Config) (tls.Certificate, error) {
	if cfg.SSLKeyPassPhrase == "" {
		cert, err := tls.LoadX509KeyPair(cfg.SSLCertPath, cfg.SSLKeyPath)
		return cert, errors.Wrap(err, "loading TLS key pair")
	}
	return decryptedKeyPair(cfg.SSLCertPath, cfg.SSLKeyPath, cfg.SSLKeyPassPhrase)
}

// connConfigFromConfig copies the connection-relevant fields out of a
// Config so a Connection never holds a pointer back to the (possibly
// mutable, if an embedder holds onto it) server configuration.
func connConfigFromConfig(cfg *config.Config) *connConfig {
	return &connConfig{
		MaxRequestSize:     cfg.MaxRequestSize,
		MaxMultipartSize:   cfg.MaxMultipartSize,
		DefaultContentType: cfg.DefaultContentType,
		DefaultCharset:     cfg.DefaultCharset,
		RequestTimeout:     cfg.RequestTimeout,
		KeepAliveTimeout:   cfg.KeepAliveTimeout,
		ResponseTimeout:    cfg.ResponseTimeout,
		ErrorDocumentMap:   cfg.ErrorDocumentMap,
	}
}

func (s *Server) getDoneChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getDoneChanLocked()
}

func (s *Server) getDoneChanLocked() chan struct{} {
	if s.doneChan == nil {
		s.doneChan = make(chan struct{})
	}
	return s.doneChan
}

func (s *Server) closeDoneChanLocked() {
	ch := s.getDoneChanLocked()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Close immediately closes all active listeners and connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeDoneChanLocked()
	var err error
	for ln := range s.listeners {
		if cerr := ln.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(s.listeners, ln)
	}
	for c := range s.activeConn {
		c.forceClose()
		delete(s.activeConn, c)
	}
	return err
}

func (s *Server) trackListener(ln net.Listener, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
}

func (s *Server) trackConn(c *Connection, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.activeConn[c] = struct{}{}
	} else {
		delete(s.activeConn, c)
	}
}

// ListenAndServe listens on cfg.Host:cfg.Port (TLS if TLS material
// loaded successfully) and serves incoming connections until Close.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "httpd: listen")
	}
	if s.cfg.MaxPendingConnections > 0 {
		// net.Listen uses the OS default backlog and the stdlib
		// exposes no way to change it, so MaxPendingConnections is
		// not applied to the listener.
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	return s.Serve(ln)
}

// Serve accepts connections on lsn, spawning a Connection goroutine
// for each, until an unrecoverable Accept error or Close/Shutdown.
// Connections exceeding cfg.MaxConnections are sent a synthesized 503
// and closed immediately, per spec.md §6.
func (s *Server) Serve(lsn net.Listener) error {
	defer lsn.Close()

	s.trackListener(lsn, true)
	defer s.trackListener(lsn, false)

	var tempDelay time.Duration
	for {
		nc, err := lsn.Accept()
		if err != nil {
			select {
			case <-s.getDoneChan():
				return ErrServerClosed
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				s.log.Warn("accept error, retrying", zap.Error(err), zap.Duration("delay", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		if s.cfg.MaxConnections > 0 && atomic.LoadInt32(&s.connCount) >= int32(s.cfg.MaxConnections) {
			rejectConnection(nc)
			continue
		}
		atomic.AddInt32(&s.connCount, 1)

		conn := NewConnection(nc, connConfigFromConfig(s.cfg), s.handler, s.log)
		s.trackConn(conn, true)
		go func() {
			defer func() {
				atomic.AddInt32(&s.connCount, -1)
				s.trackConn(conn, false)
			}()
			conn.Serve()
		}()
	}
}

// rejectConnection writes a synthesized 503 Service Unavailable and
// closes nc without ever constructing a Connection, per spec.md §6's
// maxConnections ceiling.
func rejectConnection(nc net.Conn) {
	resp := NewResponse(nil)
	resp.SetStatus(status.ServiceUnavailable, nil, "")
	resp.SetHeader("Connection", "close")
	resp.prepareToSend(0)
	resp.writeChunk(nc)
	nc.Close()
}

// Shutdown gracefully stops accepting new connections, closes idle
// listeners, and returns once every tracked connection has finished
// on its own (pipelined responses drained, keep-alive expired, or the
// client disconnected) or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closeDoneChanLocked()
	for ln := range s.listeners {
		ln.Close()
	}
	s.mu.Unlock()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		remaining := len(s.activeConn)
		s.mu.Unlock()
		if remaining == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
