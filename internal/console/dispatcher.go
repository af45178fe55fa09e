package console

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Operative-001/p2pchat/internal/peer"
	"github.com/Operative-001/p2pchat/internal/protocol"
)

const defaultCloseTimeout = 5 * time.Second

var helpText = []string{
	"Available commands:",
	"help                         - show available commands",
	"myip                         - display current IP address",
	"myport                       - display listening port number",
	"connect <destination> <port> - connect to specified IP and port",
	"list                         - display all active connections",
	"terminate <connection id>    - terminate a specified connection",
	"send <connection id> <msg>   - send a message (max 100 characters) to a specified connection",
	"exit                         - terminate all connections and exit the program",
}

// Registry is the part of the connection table the commands read.
type Registry interface {
	Lookup(id int) (*peer.Link, bool)
	Snapshot() []peer.Entry
}

// Dialer opens outbound links. Validate must not touch the network.
type Dialer interface {
	Validate(host string, port int) error
	Connect(ctx context.Context, host string, port int) (*peer.Link, error)
}

// Config wires a Dispatcher to the node it controls.
type Config struct {
	Console  *Console
	Registry Registry
	Dialer   Dialer
	// MyIP reports the address shown by myip.
	MyIP func() string
	// Port reports the bound listening port.
	Port func() int
	// Shutdown closes every link and stops accepting; called by exit.
	Shutdown     func(ctx context.Context) error
	CloseTimeout time.Duration
	Logger       zerolog.Logger
}

// Dispatcher interprets operator commands against the connection table.
type Dispatcher struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	exitOnce sync.Once
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Dispatch runs one command line and reports whether the operator asked to
// exit. Tokens are separated by any run of whitespace.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]
	out := d.cfg.Console

	switch cmd {
	case "help":
		out.Println(helpText...)
	case "myip":
		out.Printf("My IP Address: %s", d.cfg.MyIP())
	case "myport":
		out.Printf("My Port: %d", d.cfg.Port())
	case "connect":
		if len(args) != 2 {
			out.Println("Usage: connect <destination> <port>")
			break
		}
		d.connect(args[0], args[1])
	case "list":
		d.list()
	case "terminate":
		if len(args) != 1 {
			out.Println("Usage: terminate <connection id>")
			break
		}
		d.terminate(args[0])
	case "send":
		if len(args) < 2 {
			out.Println("Usage: send <connection id> <message>")
			break
		}
		d.send(args[0], strings.Join(args[1:], " "))
	case "exit":
		d.Exit(ctx)
		return true
	default:
		out.Println("Unknown command. Type 'help' to see available commands.")
	}
	return false
}

// connect validates synchronously and dials in the background so a slow
// peer never blocks the command loop. The dialer reports success itself.
func (d *Dispatcher) connect(host, portArg string) {
	out := d.cfg.Console
	port, err := protocol.ParsePort(portArg)
	if err != nil {
		out.Printf("Error: Invalid port %s.", portArg)
		return
	}
	if err := d.cfg.Dialer.Validate(host, port); err != nil {
		out.Printf("Error: %v", err)
		return
	}
	if d.ctx.Err() != nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.cfg.Dialer.Connect(d.ctx, host, port); err != nil {
			d.cfg.Logger.Debug().Err(err).Str("host", host).Int("port", port).Msg("connect failed")
			out.Event("Connection error: %v", err)
		}
	}()
}

func (d *Dispatcher) list() {
	entries := d.cfg.Registry.Snapshot()
	if len(entries) == 0 {
		d.cfg.Console.Println("No active connections.")
		return
	}
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, "ID\tIP Address\tPort")
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%d\t%s\t%d", e.ID, e.Address, e.Port))
	}
	d.cfg.Console.Println(lines...)
}

// lookup resolves an id argument, reporting failures to the operator.
func (d *Dispatcher) lookup(arg string) (*peer.Link, bool) {
	id, err := protocol.ParseID(arg)
	if err != nil {
		d.cfg.Console.Printf("Error: Invalid connection ID %s.", arg)
		return nil, false
	}
	l, ok := d.cfg.Registry.Lookup(id)
	if !ok {
		d.cfg.Console.Printf("Error: No connection found with ID %d.", id)
		return nil, false
	}
	return l, true
}

// terminate starts a graceful close. Removal from the registry happens when
// the link reports it is closed.
func (d *Dispatcher) terminate(arg string) {
	l, ok := d.lookup(arg)
	if !ok {
		return
	}
	l.Close(d.cfg.CloseTimeout)
	d.cfg.Console.Printf("Connection [ID: %d] termination requested.", l.ID())
}

func (d *Dispatcher) send(arg, msg string) {
	if err := protocol.ValidateMessage(msg); err != nil {
		d.cfg.Console.Printf("Error: %v", err)
		return
	}
	l, ok := d.lookup(arg)
	if !ok {
		return
	}
	if err := l.Write(msg); err != nil {
		d.cfg.Console.Printf("Error: %v", err)
		return
	}
	d.cfg.Console.Printf("Message sent: [ID: %d]", l.ID())
}

// Exit abandons dials in flight, shuts the node down and prints the final
// line. Only the first call has any effect.
func (d *Dispatcher) Exit(ctx context.Context) {
	d.exitOnce.Do(func() {
		d.cancel()
		d.wg.Wait()
		if d.cfg.Shutdown != nil {
			if err := d.cfg.Shutdown(ctx); err != nil {
				d.cfg.Logger.Warn().Err(err).Msg("shutdown did not complete cleanly")
			}
		}
		d.cfg.Console.Println("Program terminated.")
	})
}
