package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Vexusssek/rysowanienakolokwium/internal/scene"
	"github.com/Vexusssek/rysowanienakolokwium/internal/session"
)

// ErrServerClosed is returned by Serve after Close
var ErrServerClosed = errors.New("server closed")

const maxAcceptBackoff = time.Second

// ConnectionHandler owns an accepted connection until it is done with it
type ConnectionHandler interface {
	HandleConnection(conn net.Conn)
}

type ConnectionHandlerFunc func(conn net.Conn)

func (f ConnectionHandlerFunc) HandleConnection(conn net.Conn) { f(conn) }

// Server accepts line-protocol clients and runs one session per connection.
// There is no limit on the number of concurrent sessions.
type Server struct {
	listener net.Listener
	handler  ConnectionHandler
	logger   *zap.Logger

	active   atomic.Int64
	accepted atomic.Int64

	closed   atomic.Bool
	closeErr error
	once     sync.Once
}

type Options struct {
	Logger         *zap.Logger
	SessionOptions []session.Option
}

// Listen binds addr. A bind failure is returned to the caller, which is
// expected to treat it as fatal.
func Listen(addr string, sc *scene.Scene, opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return New(ln, sc, opts), nil
}

// New serves an existing listener, spawning a session.Session per connection
func New(ln net.Listener, sc *scene.Scene, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sessionOpts := append([]session.Option{session.WithLogger(logger)}, opts.SessionOptions...)
	handler := ConnectionHandlerFunc(func(conn net.Conn) {
		session.New(conn, sc, sessionOpts...).Run()
	})

	return NewWithHandler(ln, handler, logger)
}

func NewWithHandler(ln net.Listener, handler ConnectionHandler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		listener: ln,
		handler:  handler,
		logger:   logger,
	}
}

// Serve accepts connections until Close is called. It never waits for a
// session before accepting the next connection. Accept errors are logged
// and retried with a short backoff.
func (s *Server) Serve() error {
	s.logger.Info("🖊️ Drawing server listening", zap.String("addr", s.Addr().String()))

	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			s.logger.Warn("Accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.accepted.Add(1)
		s.active.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Session panicked", zap.Any("panic", r), zap.String("remote", conn.RemoteAddr().String()))
			conn.Close()
		}
	}()

	s.handler.HandleConnection(conn)
}

// Close stops accepting new connections. Running sessions are left alone.
func (s *Server) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.listener.Close()
	})
	return s.closeErr
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ActiveSessions is the number of connections currently being served
func (s *Server) ActiveSessions() int64 {
	return s.active.Load()
}

// Accepted is the number of connections accepted since start
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}
