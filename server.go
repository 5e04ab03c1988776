// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

// Package spdy implements SPDY/3 sessions: many independent streams
// multiplexed over one connection, with a GOAWAY handshake that lets either
// end stop accepting new streams while the ones already accepted complete.
//
// Servers are started with Server; clients with Dial or NewClientSession.
// Both ends are then driven through the same Session and Stream types.
package spdy

import (
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Server defines the parameters for running a SPDY server.
type Server struct {
	Addr    string          // TCP address to listen on. ":https" if empty.
	Handler SessionListener // listener for every accepted session.

	Config Config

	// Optional TLS config to be used on this connection.
	// NextProtos must include "spdy/3" if set.
	TLSConfig *tls.Config

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	sessions  map[*Session]struct{}
	closed    bool
	// set by GoAway; sessions accepted afterwards are sent GOAWAY at once.
	goingAway bool
	status    SessionStatus
}

// ListenAndServeTLS listens on srv.Addr and calls Serve to handle incoming connections.
//
// certFile and keyFile must be filenames to a pair of valid certificate and key.
func (srv *Server) ListenAndServeTLS(certFile, keyFile string) error {
	config := &tls.Config{}
	if srv.TLSConfig == nil {
		srv.TLSConfig = config
	} else {
		config = srv.TLSConfig
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return err
	}
	config.Certificates = []tls.Certificate{cert}

	if !srv.validateNextProtos(config) {
		return errors.New("spdy: TLS config does not offer spdy/3")
	}

	l, err := srv.negotiateListen(srv.addr())
	if err != nil {
		return err
	}
	return srv.Serve(l)
}

// validateNextProtos reports whether spdy/3 can be negotiated.
// If no protocols are set, spdy/3 is made available.
func (srv *Server) validateNextProtos(config *tls.Config) bool {
	if config.NextProtos == nil {
		config.NextProtos = []string{"spdy/3"}
		return true
	}
	for _, v := range config.NextProtos {
		if v == "spdy/3" {
			return true
		}
	}
	return false
}

// ListenAndServe listens and serve on the address given.
// Since SPDY relies on TLS with protocol negotiation,
// this method should only be used for local testing.
func (srv *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", srv.addr())
	if err != nil {
		return err
	}
	return srv.Serve(l)
}

// Serve serves connection off the provided listener.
// Note that it is the listeners responsibility to negotiate the
// protocol used.
//
// Serve always returns a non-nil error; after Close it is ErrServerClosed.
func (srv *Server) Serve(l net.Listener) error {
	if !srv.trackListener(l, true) {
		l.Close()
		return ErrServerClosed
	}
	defer srv.trackListener(l, false)

	log := srv.Config.logger()
	var delay time.Duration
	for {
		c, err := l.Accept()
		if err != nil {
			if srv.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if delay > time.Second {
					delay = time.Second
				}
				log.Warn("accept failed, retrying", zap.Error(err), zap.Duration("delay", delay))
				time.Sleep(delay)
				continue
			}
			return err
		}
		delay = 0

		sess := NewServerSession(c, srv.Config, srv.Handler)
		if !srv.trackSession(sess) {
			sess.Close()
			continue
		}
		go func() {
			<-sess.Done()
			srv.mu.Lock()
			delete(srv.sessions, sess)
			srv.mu.Unlock()
		}()
	}
}

// GoAway sends GOAWAY on every live session, and on every session accepted
// from now on. Sessions close on their own once their accepted streams
// complete.
func (srv *Server) GoAway(status SessionStatus) {
	srv.mu.Lock()
	if !srv.goingAway {
		srv.goingAway = true
		srv.status = status
	}
	srv.mu.Unlock()
	for _, sess := range srv.liveSessions() {
		sess.GoAway(status)
	}
}

// Close stops every listener and tears down every live session without
// GOAWAY.
func (srv *Server) Close() error {
	srv.mu.Lock()
	srv.closed = true
	var err error
	for l := range srv.listeners {
		if cerr := l.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	srv.mu.Unlock()

	for _, sess := range srv.liveSessions() {
		sess.Close()
	}
	return err
}

// NumSessions returns the number of sessions that have not closed yet.
func (srv *Server) NumSessions() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}

func (srv *Server) liveSessions() []*Session {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]*Session, 0, len(srv.sessions))
	for sess := range srv.sessions {
		out = append(out, sess)
	}
	return out
}

func (srv *Server) isClosed() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.closed
}

func (srv *Server) trackListener(l net.Listener, add bool) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if !add {
		delete(srv.listeners, l)
		return true
	}
	if srv.closed {
		return false
	}
	if srv.listeners == nil {
		srv.listeners = make(map[net.Listener]struct{})
	}
	srv.listeners[l] = struct{}{}
	return true
}

func (srv *Server) trackSession(sess *Session) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.closed {
		return false
	}
	if srv.sessions == nil {
		srv.sessions = make(map[*Session]struct{})
	}
	srv.sessions[sess] = struct{}{}
	if srv.goingAway {
		sess.GoAway(srv.status)
	}
	return true
}

func (srv *Server) addr() string {
	if srv.Addr != "" {
		return srv.Addr
	}
	return ":https"
}

// create a listener that only hands out connections that negotiated spdy/3.
func (srv *Server) negotiateListen(addr string) (net.Listener, error) {
	l, err := tls.Listen("tcp", addr, srv.TLSConfig)
	if err != nil {
		return nil, err
	}
	return &negotiateListen{l, srv.Config.logger()}, nil
}

// negotiateListen is a listener that negotiates spdy connections.
type negotiateListen struct {
	net.Listener
	log *zap.Logger
}

func (nl *negotiateListen) Accept() (net.Conn, error) {
	for {
		c, err := nl.Listener.Accept()
		if err != nil {
			return nil, err
		}
		ctls := c.(*tls.Conn)
		err = ctls.Handshake()
		if err != nil {
			nl.log.Debug("handshake failed", zap.Error(err))
			ctls.Close()
			continue
		}
		if proto := ctls.ConnectionState().NegotiatedProtocol; proto != "spdy/3" {
			// unsupported protocol
			nl.log.Debug("rejecting connection", zap.String("protocol", proto))
			c.Close()
			continue
		}
		return c, nil
	}
}

// Dial connects to addr over TCP and starts a client session on the
// connection.
func Dial(addr string, cfg Config, listener SessionListener) (*Session, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClientSession(c, cfg, listener), nil
}

// DialTLS is like Dial, but negotiates spdy/3 over TLS first.
func DialTLS(addr string, tlsConfig *tls.Config, cfg Config, listener SessionListener) (*Session, error) {
	config := &tls.Config{}
	if tlsConfig != nil {
		config = tlsConfig.Clone()
	}
	config.NextProtos = []string{"spdy/3"}
	c, err := tls.Dial("tcp", addr, config)
	if err != nil {
		return nil, err
	}
	if proto := c.ConnectionState().NegotiatedProtocol; proto != "spdy/3" {
		c.Close()
		return nil, errors.New("spdy: server did not negotiate spdy/3")
	}
	return NewClientSession(c, cfg, listener), nil
}
