// Package protocol defines the chat wire rules.
//
// There is no framing on the wire. Every chunk read from a socket is treated
// as one message once surrounding whitespace is trimmed, and nothing is
// appended to outgoing text. The length limit applies to the sender only;
// inbound data of any size is accepted.
package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxMessageLen is the largest message, in characters, the send command accepts.
const MaxMessageLen = 100

var (
	ErrMessageTooLong = fmt.Errorf("Message can be at most %d characters.", MaxMessageLen) //nolint:stylecheck
	ErrInvalidPort    = errors.New("protocol: port must be an integer in 1-65535")
	ErrInvalidID      = errors.New("protocol: connection id must be a positive integer")
)

// Normalize turns a received payload into the text shown to the operator.
// Empty and whitespace-only payloads yield "".
func Normalize(payload []byte) string {
	return strings.TrimSpace(string(payload))
}

// ValidateMessage reports whether msg may be sent to a peer.
func ValidateMessage(msg string) error {
	if utf8.RuneCountInString(msg) > MaxMessageLen {
		return ErrMessageTooLong
	}
	return nil
}

// ParsePort parses a TCP port number.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return 0, ErrInvalidPort
	}
	return p, nil
}

// ParseID parses a connection id. Only canonical positive integers are
// accepted, so "1" and "01" do not silently name the same link.
func ParseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 1 || strconv.Itoa(id) != s {
		return 0, ErrInvalidID
	}
	return id, nil
}

// SplitEndpoint splits a "host:port" address as reported by net.Conn.
func SplitEndpoint(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("protocol: split endpoint %q: %w", addr, err)
	}
	port, err := ParsePort(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("protocol: endpoint %q: %w", addr, err)
	}
	return host, port, nil
}

// Endpoint formats host and port for dialing.
func Endpoint(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
