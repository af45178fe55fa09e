package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Operative-001/p2pchat/internal/peer"
	"github.com/Operative-001/p2pchat/internal/protocol"
)

const acceptRetryDelay = 50 * time.Millisecond

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Port to bind on all interfaces. Zero picks a free port.
	Port         int
	Registry     *peer.Registry
	Out          Notifier
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// Listener accepts inbound peers and registers them.
type Listener struct {
	cfg    ListenerConfig
	events *linkEvents

	mu       sync.Mutex
	ln       net.Listener
	closed   bool
	acceptWg sync.WaitGroup
}

func NewListener(cfg ListenerConfig) *Listener {
	return &Listener{
		cfg:    cfg,
		events: &linkEvents{reg: cfg.Registry, out: cfg.Out, log: cfg.Logger},
	}
}

// Start binds the port and begins accepting in the background.
func (t *Listener) Start() error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(t.cfg.Port))
	if err != nil {
		return fmt.Errorf("transport: listen on port %d: %w", t.cfg.Port, err)
	}
	t.mu.Lock()
	t.ln = ln
	t.mu.Unlock()

	t.acceptWg.Add(1)
	go t.acceptLoop(ln)
	t.cfg.Logger.Debug().Str("addr", ln.Addr().String()).Msg("listening")
	return nil
}

// Port returns the bound port, or the configured one before Start.
func (t *Listener) Port() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return t.cfg.Port
	}
	return t.ln.Addr().(*net.TCPAddr).Port
}

// Close stops accepting and waits for the accept loop to finish. Links
// already admitted are left open.
func (t *Listener) Close() error {
	t.mu.Lock()
	if t.closed || t.ln == nil {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	err := t.ln.Close()
	t.mu.Unlock()
	t.acceptWg.Wait()
	return err
}

func (t *Listener) acceptLoop(ln net.Listener) {
	defer t.acceptWg.Done()
	for {
		conn, err := ln.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			t.cfg.Logger.Warn().Err(err).Msg("accept failed")
			time.Sleep(acceptRetryDelay)
			continue
		}
		t.admit(conn)
	}
}

func (t *Listener) admit(conn net.Conn) {
	host, port, err := protocol.SplitEndpoint(conn.RemoteAddr().String())
	if err != nil {
		t.cfg.Logger.Warn().Err(err).Msg("dropping connection with unusable address")
		conn.Close() //nolint:errcheck
		return
	}
	l := peer.New(conn, host, port,
		peer.WithWriteTimeout(t.cfg.WriteTimeout),
		peer.WithLogger(t.cfg.Logger),
	)
	t.cfg.Registry.Insert(l)
	t.cfg.Out.Event("New connection accepted: %s", l)
	l.Start(t.events)
}
