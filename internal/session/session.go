package session

import (
	"bufio"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vexusssek/rysowanienakolokwium/internal/protocol"
	"github.com/Vexusssek/rysowanienakolokwium/internal/scene"
)

const DefaultMaxLineBytes = 64 * 1024

// Reasons a session ended, as stored in the session ledger
const (
	EndClosed      = "closed"
	EndReadError   = "read_error"
	EndIdleTimeout = "idle_timeout"
	EndLineTooLong = "line_too_long"
)

// Recorder keeps a record of session lifetimes. Errors are logged and
// otherwise ignored: the ledger never stops a client from drawing.
type Recorder interface {
	StartSession(id, remoteAddr string, startedAt time.Time) error
	EndSession(id string, endedAt time.Time, segments, colorChanges, ignored int64, reason string) error
}

type Stats struct {
	Segments     int64 `json:"segments"`
	ColorChanges int64 `json:"color_changes"`
	Ignored      int64 `json:"ignored"`
}

// Session owns one client connection. The drawing color lives here and is
// never shared with other sessions.
type Session struct {
	ID         string
	RemoteAddr string

	conn  net.Conn
	scene *scene.Scene
	color protocol.Color

	logger       *zap.Logger
	recorder     Recorder
	maxLineBytes int
	idleTimeout  time.Duration

	segments     atomic.Int64
	colorChanges atomic.Int64
	ignored      atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

type Option func(*Session)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

func WithMaxLineBytes(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxLineBytes = n
		}
	}
}

// WithIdleTimeout ends the session when no line arrives within d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Session) { s.idleTimeout = d }
}

func New(conn net.Conn, sc *scene.Scene, opts ...Option) *Session {
	s := &Session{
		ID:           uuid.NewString(),
		RemoteAddr:   conn.RemoteAddr().String(),
		conn:         conn,
		scene:        sc,
		color:        protocol.Black,
		logger:       zap.NewNop(),
		maxLineBytes: DefaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.ID), zap.String("remote", s.RemoteAddr))
	return s
}

// Run reads lines until the peer goes away, then closes the connection.
func (s *Session) Run() {
	startedAt := time.Now()
	s.logger.Info("Client connected")
	if s.recorder != nil {
		if err := s.recorder.StartSession(s.ID, s.RemoteAddr, startedAt); err != nil {
			s.logger.Warn("Failed to record session start", zap.Error(err))
		}
	}

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, min(4096, s.maxLineBytes)), s.maxLineBytes)

	for {
		if s.idleTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
				s.logger.Warn("Idle timeout not supported by connection, disabling it", zap.Error(err))
				s.idleTimeout = 0
			}
		}
		if !scanner.Scan() {
			break
		}
		s.handle(scanner.Text())
	}

	reason := endReason(scanner.Err())
	if err := s.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("Close error", zap.Error(err))
	}

	stats := s.Stats()
	fields := []zap.Field{
		zap.String("reason", reason),
		zap.Int64("segments", stats.Segments),
		zap.Int64("ignored", stats.Ignored),
		zap.Duration("duration", time.Since(startedAt)),
	}
	if reason == EndClosed {
		s.logger.Info("Client disconnected", fields...)
	} else {
		s.logger.Warn("Client dropped", append(fields, zap.Error(scanner.Err()))...)
	}

	if s.recorder != nil {
		err := s.recorder.EndSession(s.ID, time.Now(), stats.Segments, stats.ColorChanges, stats.Ignored, reason)
		if err != nil {
			s.logger.Warn("Failed to record session end", zap.Error(err))
		}
	}
}

func (s *Session) handle(line string) {
	cmd := protocol.ParseLine(line)
	switch cmd.Kind {
	case protocol.KindSetColor:
		s.color = cmd.Color
		s.colorChanges.Add(1)
	case protocol.KindDrawSegment:
		s.scene.Append(scene.Segment{
			X1:    cmd.Coords[0],
			Y1:    cmd.Coords[1],
			X2:    cmd.Coords[2],
			Y2:    cmd.Coords[3],
			Color: s.color,
		})
		s.segments.Add(1)
	default:
		s.ignored.Add(1)
		s.logger.Debug("Ignored line", zap.Int("length", len(line)))
	}
}

// Close closes the connection. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Session) Stats() Stats {
	return Stats{
		Segments:     s.segments.Load(),
		ColorChanges: s.colorChanges.Load(),
		Ignored:      s.ignored.Load(),
	}
}

func endReason(err error) string {
	switch {
	case err == nil:
		return EndClosed
	case errors.Is(err, bufio.ErrTooLong):
		return EndLineTooLong
	case errors.Is(err, os.ErrDeadlineExceeded):
		return EndIdleTimeout
	default:
		return EndReadError
	}
}
