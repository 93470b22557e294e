package ws

import (
	"net/http"
)

// Upgrader takes an HTTP request, upgrades it to a websocket server and
// returns the connection as an Endpoint. This allows switching between
// different websocket implementations.
type Upgrader interface {
	Upgrade(*http.Request, http.ResponseWriter, http.Header) (*Conn, error)
}

// Framer reads and writes whole websocket messages.
type Framer interface {
	// ReadFrame returns the next data message, or io.EOF once the peer
	// closed the connection.
	ReadFrame() ([]byte, error)
	WriteFrame([]byte) error
	Close() error
}
