// Package node assembles a chat node.
//
// Design:
//   - One goroutine accepts inbound peers; each link runs its own read loop.
//   - Outbound dials run in the background so the command loop never blocks.
//   - The peer.Registry is the only shared table. The listener, the dialer,
//     link close events and operator commands all go through its lock.
//   - Console output is serialized; every asynchronous event ends with a
//     fresh prompt.
package node

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Operative-001/p2pchat/internal/console"
	"github.com/Operative-001/p2pchat/internal/netinfo"
	"github.com/Operative-001/p2pchat/internal/peer"
	"github.com/Operative-001/p2pchat/internal/transport"
)

const (
	defaultCloseTimeout = 5 * time.Second
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second

	// shutdownGrace is added to CloseTimeout when waiting for links to end,
	// covering the forced close that follows a timed-out graceful one.
	shutdownGrace = time.Second
)

// Config configures a Node.
type Config struct {
	Port         int           // listening port; 0 picks a free one
	CloseTimeout time.Duration // bound on a graceful close; defaults to defaultCloseTimeout
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Out          io.Writer // operator output; defaults to os.Stdout
	Logger       zerolog.Logger
	MyIP         func() string // defaults to netinfo.MyIP
	IsLocal      func(host string) bool
}

// Node is a running chat participant.
type Node struct {
	cfg        Config
	reg        *peer.Registry
	console    *console.Console
	listener   *transport.Listener
	dialer     *transport.Dialer
	dispatcher *console.Dispatcher

	stopOnce sync.Once
	stopErr  error
}

// New creates a Node. Nothing is bound until Start.
func New(cfg Config) (*Node, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("node: invalid port %d", cfg.Port)
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.MyIP == nil {
		cfg.MyIP = netinfo.MyIP
	}
	if cfg.IsLocal == nil {
		cfg.IsLocal = netinfo.IsLocal
	}

	n := &Node{
		cfg:     cfg,
		reg:     peer.NewRegistry(),
		console: console.New(cfg.Out),
	}
	n.listener = transport.NewListener(transport.ListenerConfig{
		Port:         cfg.Port,
		Registry:     n.reg,
		Out:          n.console,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       cfg.Logger.With().Str("component", "listener").Logger(),
	})
	n.dialer = transport.NewDialer(transport.DialerConfig{
		Registry: n.reg,
		Out:      n.console,
		SelfPort: n.listener.Port,
		IsLocal: func(host string) bool {
			return host == cfg.MyIP() || cfg.IsLocal(host)
		},
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       cfg.Logger.With().Str("component", "dialer").Logger(),
	})
	n.dispatcher = console.NewDispatcher(console.Config{
		Console:      n.console,
		Registry:     n.reg,
		Dialer:       n.dialer,
		MyIP:         cfg.MyIP,
		Port:         n.listener.Port,
		Shutdown:     n.Shutdown,
		CloseTimeout: cfg.CloseTimeout,
		Logger:       cfg.Logger,
	})
	return n, nil
}

// Start binds the listening port. A port already in use is reported as an
// error; the node cannot run without it.
func (n *Node) Start() error {
	if err := n.listener.Start(); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	n.console.Printf("Server listening on port %d", n.listener.Port())
	return nil
}

// Run drives the command loop from in until the operator exits, input ends
// or ctx is cancelled. The node is shut down when Run returns.
func (n *Node) Run(ctx context.Context, in io.Reader) error {
	return n.console.Run(ctx, in, n.dispatcher)
}

// Dispatch executes a single command line and reports whether it was exit.
func (n *Node) Dispatch(ctx context.Context, line string) bool {
	return n.dispatcher.Dispatch(ctx, line)
}

// Connect dials host:port directly, bypassing the console.
func (n *Node) Connect(ctx context.Context, host string, port int) (*peer.Link, error) {
	return n.dialer.Connect(ctx, host, port)
}

func (n *Node) Registry() *peer.Registry { return n.reg }

// Port returns the bound listening port.
func (n *Node) Port() int { return n.listener.Port() }

// Shutdown stops accepting, closes every link gracefully and waits for them
// within CloseTimeout plus a grace period. Links still registered after that
// are aborted and removed, so the registry is empty when Shutdown returns.
func (n *Node) Shutdown(ctx context.Context) error {
	n.stopOnce.Do(func() {
		if err := n.listener.Close(); err != nil {
			n.cfg.Logger.Debug().Err(err).Msg("listener close")
		}

		ctx, cancel := context.WithTimeout(ctx, n.cfg.CloseTimeout+shutdownGrace)
		defer cancel()

		var g errgroup.Group
		for _, l := range n.reg.Links() {
			l := l
			g.Go(func() error {
				l.Close(n.cfg.CloseTimeout)
				select {
				case <-l.Done():
					return nil
				case <-ctx.Done():
					return fmt.Errorf("node: link %s: %w", l, ctx.Err())
				}
			})
		}
		n.stopErr = g.Wait()

		for _, l := range n.reg.Links() {
			l.Abort()
			n.reg.RemoveByLink(l)
			n.cfg.Logger.Warn().Int("id", l.ID()).Msg("force-removed link at shutdown")
		}
	})
	return n.stopErr
}
