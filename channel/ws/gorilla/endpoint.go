// Package gorilla carries channel messages over Gorilla's websocket library.
package gorilla

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/vipnode/framechan/channel/ws"
)

// Dial connects to a websocket server. origin is the local origin, sent as
// the Origin header and on every posted message.
func Dial(ctx context.Context, url string, origin string) (*ws.Conn, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return ws.NewConn(&framer{conn: conn}, origin, ""), nil
}

var _ ws.Framer = &framer{}

type framer struct {
	conn *websocket.Conn
}

func (f *framer) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := f.conn.ReadMessage()
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (f *framer) WriteFrame(data []byte) error {
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *framer) Close() error {
	return f.conn.Close()
}

var _ ws.Upgrader = &Upgrader{}

// Upgrader upgrades an HTTP request to a WebSocket connection. The Origin
// header of the request, when present, becomes the peer origin of the
// connection.
type Upgrader struct {
	Upgrader websocket.Upgrader
	// Origin is the origin of the server side.
	Origin string
}

func (u *Upgrader) Upgrade(r *http.Request, w http.ResponseWriter, h http.Header) (*ws.Conn, error) {
	conn, err := u.Upgrader.Upgrade(w, r, h)
	if err != nil {
		return nil, err
	}
	return ws.NewConn(&framer{conn: conn}, u.Origin, r.Header.Get("Origin")), nil
}
