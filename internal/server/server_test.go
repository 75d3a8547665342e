package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Vexusssek/rysowanienakolokwium/internal/protocol"
	"github.com/Vexusssek/rysowanienakolokwium/internal/scene"
)

func startServer(t *testing.T, sc *scene.Scene) *Server {
	t.Helper()

	srv, err := Listen("127.0.0.1:0", sc, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	t.Cleanup(func() {
		srv.Close()
		assert.ErrorIs(t, <-served, ErrServerClosed)
		require.Eventually(t, func() bool { return srv.ActiveSessions() == 0 }, 5*time.Second, 5*time.Millisecond)
	})
	return srv
}

func send(t *testing.T, addr net.Addr, lines ...string) {
	t.Helper()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	for _, line := range lines {
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
	}
}

func TestTwoClientsConcurrently(t *testing.T) {
	sc := scene.New()
	srv := startServer(t, sc)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		send(t, srv.Addr(), "FF0000", "0 0 10 10")
	}()
	go func() {
		defer wg.Done()
		send(t, srv.Addr(), "0000FF", "5 5 15 15")
	}()
	wg.Wait()

	require.Eventually(t, func() bool { return sc.Len() == 2 }, 5*time.Second, 5*time.Millisecond)

	byColor := make(map[protocol.Color]scene.Segment)
	for _, seg := range sc.Snapshot() {
		byColor[seg.Color] = seg
	}

	red, ok := byColor[protocol.Color{R: 255}]
	require.True(t, ok, "red segment missing")
	assert.Equal(t, scene.Segment{X1: 0, Y1: 0, X2: 10, Y2: 10, Color: protocol.Color{R: 255}}, red)

	blue, ok := byColor[protocol.Color{B: 255}]
	require.True(t, ok, "blue segment missing")
	assert.Equal(t, scene.Segment{X1: 5, Y1: 5, X2: 15, Y2: 15, Color: protocol.Color{B: 255}}, blue)
}

func TestThousandLinesThenDisconnect(t *testing.T) {
	sc := scene.New()
	srv := startServer(t, sc)

	lines := make([]string, 1000)
	for i := range lines {
		lines[i] = fmt.Sprintf("%d 0 %d 1", i, i)
	}
	send(t, srv.Addr(), lines...)

	require.Eventually(t, func() bool {
		return sc.Len() == 1000 && srv.ActiveSessions() == 0
	}, 5*time.Second, 5*time.Millisecond)

	for i, seg := range sc.Snapshot() {
		require.Equal(t, float64(i), seg.X1)
	}

	// Still accepting after the first client left
	send(t, srv.Addr(), "1 1 1 1")
	require.Eventually(t, func() bool { return sc.Len() == 1001 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), srv.Accepted())
}

func TestSessionsDoNotBlockAccept(t *testing.T) {
	sc := scene.New()
	srv := startServer(t, sc)

	// An idle client holds its session open
	idle, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer idle.Close()

	send(t, srv.Addr(), "2 2 3 3")
	require.Eventually(t, func() bool { return sc.Len() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, srv.ActiveSessions(), int64(1))
}

func TestListenBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = Listen(ln.Addr().String(), scene.New(), Options{})
	assert.Error(t, err)
}

// flakyListener fails the first Accept and then hands out queued connections
type flakyListener struct {
	conns  chan net.Conn
	failed bool
	closed chan struct{}
	once   sync.Once
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if !l.failed {
		l.failed = true
		return nil, errors.New("too many open files")
	}
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *flakyListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *flakyListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}

func TestAcceptErrorDoesNotStopServer(t *testing.T) {
	ln := &flakyListener{conns: make(chan net.Conn, 1), closed: make(chan struct{})}

	handled := make(chan net.Conn, 1)
	srv := NewWithHandler(ln, ConnectionHandlerFunc(func(c net.Conn) { handled <- c }), zaptest.NewLogger(t))

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	a, b := net.Pipe()
	defer b.Close()
	ln.conns <- a

	select {
	case c := <-handled:
		assert.Equal(t, a, c)
	case <-time.After(5 * time.Second):
		t.Fatal("Connection after accept error was not handled")
	}

	require.NoError(t, srv.Close())
	assert.ErrorIs(t, <-served, ErrServerClosed)
}

func TestPanickingHandlerIsContained(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	calls := make(chan struct{}, 2)
	srv := NewWithHandler(ln, ConnectionHandlerFunc(func(c net.Conn) {
		calls <- struct{}{}
		panic("boom")
	}), zaptest.NewLogger(t))

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		conn.Close()
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatal("Handler was not called")
		}
	}

	require.Eventually(t, func() bool { return srv.ActiveSessions() == 0 }, 5*time.Second, 5*time.Millisecond)
	srv.Close()
	assert.ErrorIs(t, <-served, ErrServerClosed)
}
