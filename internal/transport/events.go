package transport

import (
	"github.com/rs/zerolog"

	"github.com/Operative-001/p2pchat/internal/peer"
	"github.com/Operative-001/p2pchat/internal/protocol"
)

// Notifier receives operator-facing notifications about links.
type Notifier interface {
	Event(format string, args ...any)
}

// linkEvents is the peer.Handler shared by accepted and dialed links.
type linkEvents struct {
	reg *peer.Registry
	out Notifier
	log zerolog.Logger
}

func (e *linkEvents) HandleData(l *peer.Link, payload []byte) {
	e.out.Event("[Message received] %s\nMessage: %s", l.Endpoint(), protocol.Normalize(payload))
}

// HandleError only reports; the closed event that always follows removes the link.
func (e *linkEvents) HandleError(l *peer.Link, err error) {
	e.log.Debug().Err(err).Int("id", l.ID()).Msg("link error")
	e.out.Event("Error: %v", err)
}

func (e *linkEvents) HandleClosed(l *peer.Link) {
	if !e.reg.RemoveByLink(l) {
		e.log.Debug().Int("id", l.ID()).Msg("closed link was already removed")
	}
	e.out.Event("Connection closed: %s", l)
}
