// Package peer holds the live chat connections of a node.
//
// A Link owns exactly one socket. Its read loop reports data, errors and
// closure to a Handler; the closed notification fires once per link no matter
// whether the local operator, the remote peer or a transport error ended it.
// The Registry is the authoritative table of open links keyed by id.
package peer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const readBufferSize = 4096

// ErrClosed is returned when writing to a link that is closing or closed.
var ErrClosed = errors.New("peer: link is closed")

// State is the lifecycle stage of a Link.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Handler receives the events of a started Link. For a single link the calls
// arrive in the order the socket produced them and never concurrently.
// HandleError is always followed by HandleClosed.
type Handler interface {
	HandleData(l *Link, payload []byte)
	HandleError(l *Link, err error)
	HandleClosed(l *Link)
}

// Option configures a Link.
type Option func(l *Link)

// Outbound marks the link as dialed by this process.
func Outbound() Option {
	return func(l *Link) { l.outbound = true }
}

// WithWriteTimeout bounds every Write. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Link) { l.writeTimeout = d }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Link) { l.log = log }
}

// Link is one bidirectional connection to a remote participant.
type Link struct {
	id       atomic.Int64
	addr     string
	port     int
	outbound bool
	conn     net.Conn

	writeTimeout time.Duration
	log          zerolog.Logger

	state     atomic.Int32
	startOnce sync.Once
	closeOnce sync.Once
	writeMu   sync.Mutex
	done      chan struct{}
}

// New wraps conn. addr and port describe the remote endpoint as the operator
// knows it: the dialed destination for outbound links, the socket's peer
// address for accepted ones.
func New(conn net.Conn, addr string, port int, opts ...Option) *Link {
	l := &Link{
		addr: addr,
		port: port,
		conn: conn,
		log:  zerolog.Nop(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.log = l.log.With().Str("remote", l.Endpoint()).Logger()
	return l
}

// ID returns the registry id, or 0 before the link has been inserted.
func (l *Link) ID() int { return int(l.id.Load()) }

func (l *Link) Address() string { return l.addr }

func (l *Link) Port() int { return l.port }

func (l *Link) IsOutbound() bool { return l.outbound }

func (l *Link) State() State { return State(l.state.Load()) }

// Endpoint returns "address:port" in the form shown to the operator.
func (l *Link) Endpoint() string { return fmt.Sprintf("%s:%d", l.addr, l.port) }

func (l *Link) String() string {
	return fmt.Sprintf("[ID: %d] %s", l.ID(), l.Endpoint())
}

// Done is closed after the link reached StateClosed and its handler returned.
func (l *Link) Done() <-chan struct{} { return l.done }

// Start launches the read loop. Calls after the first are ignored.
func (l *Link) Start(h Handler) {
	l.startOnce.Do(func() {
		go l.readLoop(h)
	})
}

// Write sends msg verbatim. No newline or framing is added.
func (l *Link) Write(msg string) error {
	if l.State() != StateOpen {
		return ErrClosed
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.writeTimeout > 0 {
		l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout)) //nolint:errcheck
	}
	if _, err := io.WriteString(l.conn, msg); err != nil {
		return fmt.Errorf("peer: write %s: %w", l.Endpoint(), err)
	}
	return nil
}

// Close requests a graceful shutdown and returns immediately. Pending writes
// are flushed and the sending half is shut down so the peer sees EOF; once the
// peer closes its side the read loop ends. If that has not happened within
// timeout the socket is closed outright.
func (l *Link) Close(timeout time.Duration) {
	if !l.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return
	}
	if hc, ok := l.conn.(interface{ CloseWrite() error }); ok {
		l.writeMu.Lock()
		err := hc.CloseWrite()
		l.writeMu.Unlock()
		if err == nil {
			go l.forceAfter(timeout)
			return
		}
		l.log.Debug().Err(err).Msg("half-close failed, closing socket")
	}
	l.conn.Close() //nolint:errcheck
}

// Abort closes the socket immediately.
func (l *Link) Abort() {
	l.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
	l.conn.Close() //nolint:errcheck
}

func (l *Link) forceAfter(timeout time.Duration) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-l.done:
	case <-t.C:
		l.log.Warn().Dur("timeout", timeout).Msg("peer did not finish closing, forcing")
		l.conn.Close() //nolint:errcheck
	}
}

func (l *Link) readLoop(h Handler) {
	defer l.finish(h)

	buf := make([]byte, readBufferSize)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			h.HandleData(l, payload)
		}
		if err != nil {
			if !isClosure(err) {
				h.HandleError(l, err)
			}
			return
		}
	}
}

func (l *Link) finish(h Handler) {
	l.closeOnce.Do(func() {
		l.conn.Close() //nolint:errcheck
		l.state.Store(int32(StateClosed))
		h.HandleClosed(l)
		close(l.done)
	})
}

// isClosure reports errors that mean the connection ended normally: the peer
// closed, or we closed the socket ourselves.
func isClosure(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}
