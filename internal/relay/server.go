package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"ms-checkin/internal/logger"
)

// Handler answers one client request. The host implements it with its own
// verification and commit engines.
type Handler interface {
	Handle(ctx context.Context, req Request) Reply
}

type HandlerFunc func(ctx context.Context, req Request) Reply

func (f HandlerFunc) Handle(ctx context.Context, req Request) Reply {
	return f(ctx, req)
}

type ServerConfig struct {
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxLineLength int
}

// Server is the host side of the relay. Requests on one connection are
// handled in order; connections are handled concurrently.
type Server struct {
	handler Handler
	hub     *Hub
	config  ServerConfig
	logger  *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

func NewServer(handler Handler, hub *Hub, config ServerConfig, log *logger.Logger) *Server {
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = 4096
	}
	return &Server{
		handler: handler,
		hub:     hub,
		config:  config,
		logger:  log,
		conns:   make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("relay listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.LogRelay("LISTEN", ln.Addr().String(), "relay host accepting clients")

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("relay accept: %w", err)
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.ServeConn(ctx, conn)
		}()
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// ServeConn runs the request loop of one client until it disconnects.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	peerID := conn.RemoteAddr().String()
	peer := &peerConn{id: peerID, w: conn, set: conn.SetWriteDeadline}
	if s.hub != nil {
		s.hub.add(peer)
		defer s.hub.remove(peerID)
	}
	defer conn.Close()
	s.logger.LogRelay("CONNECT", peerID, "client connected")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 512), s.config.MaxLineLength)

	for {
		if s.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		var reply Reply
		req, err := ParseRequest(line)
		if err != nil {
			s.logger.Warn("RELAY", fmt.Sprintf("Bad request from %s: %v", peerID, err))
			reply = Reply{Status: StatusError, Message: "Malformed request", Action: ActionRejected, Code: "malformed_request"}
		} else {
			s.logger.LogRelay("REQUEST", peerID, req.QRCode)
			reply = s.handler.Handle(ctx, req)
		}

		out, err := reply.Encode()
		if err != nil {
			s.logger.Error("RELAY", fmt.Sprintf("Failed to encode reply: %v", err))
			continue
		}
		if err := peer.writeLine(out, s.config.WriteTimeout); err != nil {
			s.logger.Warn("RELAY", fmt.Sprintf("Reply to %s failed: %v", peerID, err))
			break
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("RELAY", fmt.Sprintf("Connection %s closed: %v", peerID, err))
	}
	s.logger.LogRelay("DISCONNECT", peerID, "client disconnected")
}

// Addr returns the listening address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting and drops every client.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	return err
}
