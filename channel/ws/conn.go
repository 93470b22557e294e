// Package ws carries channel messages over websockets. Each side of a
// connection acts as a remote context: messages posted to a Conn are wrapped
// in an Envelope and delivered to the peer's Dispatcher.
package ws

import (
	"errors"
	"io"
	"sync"

	"github.com/vipnode/framechan/channel"
	"github.com/vipnode/framechan/internal/jsoncodec"
	"github.com/vipnode/framechan/internal/pretty"
)

// ErrClosed is returned when posting to a closed connection.
var ErrClosed = errors.New("ws: connection closed")

var _ channel.Endpoint = &Conn{}

// Conn is a websocket connection used as a channel.Endpoint.
type Conn struct {
	framer Framer
	origin string
	peer   string

	muWrite sync.Mutex

	mu     sync.Mutex
	closed bool
}

// NewConn wraps framer. origin is the origin of the local side, put on every
// posted message. peer, when set, overrides the origin claimed by inbound
// messages, e.g. with the Origin header of the upgrade request.
func NewConn(framer Framer, origin, peer string) *Conn {
	return &Conn{
		framer: framer,
		origin: origin,
		peer:   peer,
	}
}

// Origin returns the local origin.
func (c *Conn) Origin() string {
	return c.origin
}

// PeerOrigin returns the origin enforced on inbound messages, if any.
func (c *Conn) PeerOrigin() string {
	return c.peer
}

// PostMessage sends data to the peer.
func (c *Conn) PostMessage(data []byte, targetOrigin string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	frame, err := jsoncodec.Marshal(&Envelope{
		Origin: c.origin,
		Target: targetOrigin,
		Data:   data,
	})
	if err != nil {
		return err
	}
	c.muWrite.Lock()
	defer c.muWrite.Unlock()
	return c.framer.WriteFrame(frame)
}

// Serve delivers inbound messages to d until the connection is closed. It
// returns nil once either side closed the connection.
func (c *Conn) Serve(d *channel.Dispatcher) error {
	for {
		frame, err := c.framer.ReadFrame()
		if err == io.EOF || (err != nil && c.isClosed()) {
			return nil
		}
		if err != nil {
			return err
		}

		var env Envelope
		if err := jsoncodec.Unmarshal(frame, &env); err != nil {
			logger.Debugf("Conn: dropping malformed envelope: %s", pretty.Payload(frame))
			continue
		}
		if !env.Accepts(c.origin) {
			logger.Debugf("Conn: dropping message for %q", env.Target)
			continue
		}
		origin := env.Origin
		if c.peer != "" {
			origin = c.peer
		}
		d.Deliver(channel.Event{
			Data:   env.Data,
			Origin: origin,
			Source: c,
		})
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the underlying connection. Serve returns afterwards.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.framer.Close()
}
