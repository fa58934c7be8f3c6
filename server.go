package magpie

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/netutil"
)

// Server is the session supervisor: it accepts connections, runs one
// session goroutine per connection, bounds concurrency and coordinates
// graceful shutdown.
type Server struct {
	config   ServerConfig
	resolver *ReverseResolver

	listener net.Listener

	connMu sync.Mutex
	conns  map[*Connection]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewServer creates a Server from the given configuration. The
// configuration is copied and must not be mutated afterwards.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Hostname == "" {
		return nil, ErrMissingHostname
	}
	if config.Store == nil {
		return nil, ErrMissingStore
	}
	config.applyDefaults()

	resolver := config.Resolver
	if resolver == nil && config.ReverseLookup {
		resolver = NewReverseResolver()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:   config,
		resolver: resolver,
		conns:    make(map[*Connection]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// ListenAndServe starts the server on the configured address.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("smtp: failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// ListenAndServeTLS starts the server with implicit TLS.
func (s *Server) ListenAndServeTLS() error {
	if s.config.TLSConfig == nil {
		return errors.New("smtp: TLS config is required for TLS server")
	}
	listener, err := tls.Listen("tcp", s.config.Addr, s.config.TLSConfig)
	if err != nil {
		return fmt.Errorf("smtp: failed to listen TLS: %w", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on the listener until Shutdown or Close.
// With MaxConnections set, further connections wait in the accept backlog
// until a running session finishes.
func (s *Server) Serve(listener net.Listener) error {
	if s.config.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.config.MaxConnections)
	}
	s.listener = listener

	s.config.Logger.Info("smtp server started",
		slog.String("addr", listener.Addr().String()),
		slog.String("hostname", s.config.Hostname),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			s.config.Logger.Error("accept error", slog.Any("error", err))
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Shutdown stops accepting connections, sends 421 to connected clients and
// waits for running sessions to finish. Sessions still running when ctx
// expires are force-closed and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	s.cancel()

	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.broadcastShutdown()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.closeAll()
		return ctx.Err()
	}
}

// Close immediately terminates the server and all sessions.
func (s *Server) Close() error {
	s.closed.Store(true)
	s.cancel()

	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.broadcastShutdown()
	s.closeAll()
	return nil
}

// broadcastShutdown delivers a best-effort 421 farewell to every connected
// client and closes their connections so blocked reads return
// (RFC 5321 Section 3.8).
func (s *Server) broadcastShutdown() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	for conn := range s.conns {
		conn.writeFarewell(Response{
			Code:    CodeServiceUnavailable,
			Message: fmt.Sprintf("%s Service shutting down [%s]", s.config.Hostname, conn.Trace.ID),
		})
		_ = conn.Close()
	}
}

func (s *Server) closeAll() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// handleConnection runs one session from greeting to close.
func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()

	conn := newConnection(s.ctx, netConn, &s.config)
	conn.Trace.ID = newMessageID()

	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
	metricConnectionsInc()

	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		_ = conn.Close()
	}()

	logger := s.config.Logger.With(
		slog.String("conn_id", conn.Trace.ID),
		slog.String("remote", conn.RemoteAddr().String()),
	)

	if s.resolver != nil {
		if ip, err := ipFromAddr(conn.RemoteAddr()); err == nil {
			if name, err := s.resolver.Lookup(conn.Context(), ip); err == nil {
				conn.setReverseDNS(name)
				logger = logger.With(slog.String("rdns", name))
			}
		}
	}

	logger.Info("client connected")

	sess := &session{server: s, conn: conn, logger: logger}
	sess.run()

	logger.Info("client disconnected",
		slog.Int64("commands", conn.Trace.CommandCount),
		slog.Int64("transactions", conn.Trace.TransactionCount),
		slog.Int("errors", conn.errorCount()),
	)
}

// ipFromAddr extracts the IP of a client address.
func ipFromAddr(addr net.Addr) (net.IP, error) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP, nil
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("smtp: no IP in address %v", addr)
	}
	return ip, nil
}
