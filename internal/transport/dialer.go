package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Operative-001/p2pchat/internal/netinfo"
	"github.com/Operative-001/p2pchat/internal/peer"
	"github.com/Operative-001/p2pchat/internal/protocol"
)

const defaultDialTimeout = 10 * time.Second

var (
	ErrSelfConnect = errors.New("Cannot connect to self.")    //nolint:stylecheck
	ErrDuplicate   = errors.New("Connection already exists.") //nolint:stylecheck
)

// DialerConfig configures a Dialer.
type DialerConfig struct {
	Registry *peer.Registry
	Out      Notifier
	// SelfPort reports this node's listening port.
	SelfPort func() int
	// IsLocal reports whether a host names this machine.
	IsLocal      func(host string) bool
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// Dialer opens outbound links. Destinations are checked against this node's
// own endpoint, the registry and dials still in progress before any socket
// is created.
type Dialer struct {
	cfg    DialerConfig
	events *linkEvents

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewDialer(cfg DialerConfig) *Dialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.IsLocal == nil {
		cfg.IsLocal = netinfo.IsLocal
	}
	if cfg.SelfPort == nil {
		cfg.SelfPort = func() int { return 0 }
	}
	return &Dialer{
		cfg:     cfg,
		events:  &linkEvents{reg: cfg.Registry, out: cfg.Out, log: cfg.Logger},
		pending: make(map[string]struct{}),
	}
}

// Validate reports whether host:port may be dialed right now.
func (d *Dialer) Validate(host string, port int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.validateLocked(host, port)
}

func (d *Dialer) validateLocked(host string, port int) error {
	if port == d.cfg.SelfPort() && d.cfg.IsLocal(host) {
		return ErrSelfConnect
	}
	if _, ok := d.pending[protocol.Endpoint(host, port)]; ok {
		return ErrDuplicate
	}
	if d.cfg.Registry.HasEndpoint(host, port) {
		return ErrDuplicate
	}
	return nil
}

// Connect validates, dials and registers a link to host:port. Dial failures
// are returned as is and leave the registry untouched.
func (d *Dialer) Connect(ctx context.Context, host string, port int) (*peer.Link, error) {
	key := protocol.Endpoint(host, port)
	d.mu.Lock()
	if err := d.validateLocked(host, port); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.pending[key] = struct{}{}
	d.mu.Unlock()

	// The pending mark is dropped only after the link is registered, so a
	// second connect to the same endpoint is always rejected.
	defer func() {
		d.mu.Lock()
		delete(d.pending, key)
		d.mu.Unlock()
	}()

	d.cfg.Logger.Debug().Str("endpoint", key).Msg("dialing")
	dialer := net.Dialer{Timeout: d.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		conn.Close() //nolint:errcheck
		return nil, err
	}

	l := peer.New(conn, host, port,
		peer.Outbound(),
		peer.WithWriteTimeout(d.cfg.WriteTimeout),
		peer.WithLogger(d.cfg.Logger),
	)
	d.cfg.Registry.Insert(l)
	d.cfg.Out.Event("Connection established: %s", l)
	l.Start(d.events)
	return l, nil
}
