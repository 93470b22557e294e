// Package gobwas carries channel messages over the gobwas/ws library.
package gobwas

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	channelws "github.com/vipnode/framechan/channel/ws"
)

type rwc struct {
	io.Reader
	io.Writer
	io.Closer
}

// Dial connects to a websocket server. origin is the local origin, sent as
// the Origin header and on every posted message.
func Dial(ctx context.Context, url string, origin string) (*channelws.Conn, error) {
	dialer := ws.Dialer{}
	if origin != "" {
		dialer.Header = ws.HandshakeHeaderHTTP(http.Header{"Origin": []string{origin}})
	}
	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	var r io.Reader
	if br != nil {
		r = br
	}
	return channelws.NewConn(newFramer(conn, r, ws.StateClientSide), origin, ""), nil
}

// newFramer wraps conn. Data the handshake read ahead of the first frame is
// kept in r, which is read from instead of conn when set.
func newFramer(conn net.Conn, r io.Reader, state ws.State) *framer {
	if r == nil {
		r = conn
	}
	return &framer{
		rw:    rwc{r, conn, conn},
		state: state,
	}
}

var _ channelws.Framer = &framer{}

type framer struct {
	rw    rwc
	state ws.State
}

func (f *framer) ReadFrame() ([]byte, error) {
	for {
		data, op, err := wsutil.ReadData(f.rw, f.state)
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		if op == ws.OpText || op == ws.OpBinary {
			return data, nil
		}
	}
}

func (f *framer) WriteFrame(data []byte) error {
	return wsutil.WriteMessage(f.rw, f.state, ws.OpText, data)
}

func (f *framer) Close() error {
	return f.rw.Close()
}

var _ channelws.Upgrader = &Upgrader{}

// Upgrader upgrades an HTTP request to a WebSocket connection. The Origin
// header of the request, when present, becomes the peer origin of the
// connection.
type Upgrader struct {
	Upgrader ws.HTTPUpgrader
	// Origin is the origin of the server side.
	Origin string
}

func (u *Upgrader) Upgrade(r *http.Request, w http.ResponseWriter, h http.Header) (*channelws.Conn, error) {
	upgrader := u.Upgrader
	if h != nil {
		upgrader.Header = h
	}
	conn, rw, _, err := upgrader.Upgrade(r, w)
	if err != nil {
		return nil, err
	}
	var br io.Reader
	if rw != nil {
		br = rw.Reader
	}
	return channelws.NewConn(newFramer(conn, br, ws.StateServerSide), u.Origin, r.Header.Get("Origin")), nil
}
