package console

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Operative-001/p2pchat/internal/peer"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

type fakeDialer struct {
	mu          sync.Mutex
	validateErr error
	connectErr  error
	dialed      []string
}

func (f *fakeDialer) Validate(string, int) error { return f.validateErr }

func (f *fakeDialer) Connect(_ context.Context, host string, _ int) (*peer.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialed = append(f.dialed, host)
	return nil, f.connectErr
}

func (f *fakeDialer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dialed)
}

type fixture struct {
	d         *Dispatcher
	out       *syncBuffer
	reg       *peer.Registry
	dialer    *fakeDialer
	shutdowns int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{out: &syncBuffer{}, reg: peer.NewRegistry(), dialer: &fakeDialer{}}
	f.d = NewDispatcher(Config{
		Console:  New(f.out),
		Registry: f.reg,
		Dialer:   f.dialer,
		MyIP:     func() string { return "192.168.1.20" },
		Port:     func() int { return 5000 },
		Shutdown: func(context.Context) error {
			f.shutdowns++
			return nil
		},
		CloseTimeout: 100 * time.Millisecond,
	})
	return f
}

// run dispatches line and returns what it printed.
func (f *fixture) run(t *testing.T, line string) string {
	t.Helper()
	f.out.Reset()
	require.False(t, f.d.Dispatch(context.Background(), line))
	return f.out.String()
}

// addLink registers a started link whose remote end is returned.
func (f *fixture) addLink(t *testing.T, addr string, port int) (*peer.Link, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() { remote.Close() })
	l := peer.New(local, addr, port)
	f.reg.Insert(l)
	l.Start(nopHandler{})
	return l, remote
}

type nopHandler struct{}

func (nopHandler) HandleData(*peer.Link, []byte) {}
func (nopHandler) HandleError(*peer.Link, error) {}
func (nopHandler) HandleClosed(*peer.Link)       {}

func TestDispatchInfoCommands(t *testing.T) {
	f := newFixture(t)
	assert.Contains(t, f.run(t, "help"), "Available commands:")
	assert.Contains(t, f.run(t, "help"), "send <connection id> <msg>")
	assert.Equal(t, "My IP Address: 192.168.1.20\n", f.run(t, "myip"))
	assert.Equal(t, "My Port: 5000\n", f.run(t, "  myport  "))
	assert.Equal(t, "Unknown command. Type 'help' to see available commands.\n", f.run(t, "dance"))
	assert.Equal(t, "", f.run(t, "   "))
}

func TestDispatchConnect(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Usage: connect <destination> <port>\n", f.run(t, "connect 10.0.0.1"))
	assert.Equal(t, "Usage: connect <destination> <port>\n", f.run(t, "connect"))
	assert.Equal(t, "Error: Invalid port 99999.\n", f.run(t, "connect 10.0.0.1 99999"))
	assert.Equal(t, "Error: Invalid port abc.\n", f.run(t, "connect 10.0.0.1 abc"))
	assert.Zero(t, f.dialer.calls())

	f.dialer.validateErr = errors.New("Cannot connect to self.")
	assert.Equal(t, "Error: Cannot connect to self.\n", f.run(t, "connect 192.168.1.20 5000"))
	assert.Zero(t, f.dialer.calls(), "rejected destinations must not be dialed")

	f.dialer.validateErr = nil
	f.dialer.connectErr = errors.New("connection refused")
	f.run(t, "connect 10.0.0.1 5001")
	require.Eventually(t, func() bool {
		return strings.Contains(f.out.String(), "Connection error: connection refused")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.dialer.calls())
}

func TestDispatchList(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "No active connections.\n", f.run(t, "list"))

	for i := 0; i < 4; i++ {
		f.reg.Insert(peer.New(nil, "10.0.0.1", 6000+i))
	}
	f.reg.RemoveByID(2)

	assert.Equal(t,
		"ID\tIP Address\tPort\n"+
			"1\t10.0.0.1\t6000\n"+
			"3\t10.0.0.1\t6002\n"+
			"4\t10.0.0.1\t6003\n",
		f.run(t, "list"))
}

func TestDispatchTerminate(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Usage: terminate <connection id>\n", f.run(t, "terminate"))
	assert.Equal(t, "Usage: terminate <connection id>\n", f.run(t, "terminate 1 2"))
	assert.Equal(t, "Error: Invalid connection ID one.\n", f.run(t, "terminate one"))
	assert.Equal(t, "Error: No connection found with ID 7.\n", f.run(t, "terminate 7"))

	l, _ := f.addLink(t, "10.0.0.2", 7000)
	assert.Equal(t, "Connection [ID: 1] termination requested.\n", f.run(t, "terminate 1"))
	assert.NotEqual(t, peer.StateOpen, l.State())
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("terminated link did not close")
	}
}

func TestDispatchSend(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Usage: send <connection id> <message>\n", f.run(t, "send 1"))
	assert.Equal(t, "Error: No connection found with ID 3.\n", f.run(t, "send 3 hi"))
	assert.Equal(t, "Error: Invalid connection ID x.\n", f.run(t, "send x hi"))

	_, remote := f.addLink(t, "10.0.0.2", 7000)

	long := strings.Repeat("a", 101)
	assert.Equal(t, "Error: Message can be at most 100 characters.\n", f.run(t, "send 1 "+long))
	assert.Equal(t, "Error: Message can be at most 100 characters.\n", f.run(t, "send 9 "+long))

	exact := strings.Repeat("b", 100)
	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := remote.Read(buf)
		got <- string(buf[:n])
	}()
	assert.Equal(t, "Message sent: [ID: 1]\n", f.run(t, "send 1 "+exact))
	assert.Equal(t, exact, <-got)

	go func() {
		buf := make([]byte, 256)
		n, _ := remote.Read(buf)
		got <- string(buf[:n])
	}()
	f.run(t, "send 1 spaced    out\tmessage")
	assert.Equal(t, "spaced out message", <-got)
}

func TestDispatchExit(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.d.Dispatch(context.Background(), "exit"))
	assert.Equal(t, "Program terminated.\n", f.out.String())
	assert.Equal(t, 1, f.shutdowns)

	f.d.Exit(context.Background())
	assert.Equal(t, 1, f.shutdowns)

	// Dials after exit are not started.
	f.run(t, "connect 10.0.0.1 5001")
	assert.Zero(t, f.dialer.calls())
}
