package main

import (
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gorilla/websocket"
	"github.com/vipnode/framechan/channel"
	channelws "github.com/vipnode/framechan/channel/ws"
	"github.com/vipnode/framechan/channel/ws/gobwas"
	"github.com/vipnode/framechan/channel/ws/gorilla"
)

// server serves one channel per websocket connection. All of them share a
// dispatcher.
type server struct {
	ws         channelws.Upgrader
	dispatcher *channel.Dispatcher
	config     serveConfig
	tick       time.Duration
}

func newUpgrader(transport, origin string) (channelws.Upgrader, error) {
	switch transport {
	case "", "gorilla":
		return &gorilla.Upgrader{
			Upgrader: websocket.Upgrader{
				// Checked by the server before upgrading.
				CheckOrigin: func(*http.Request) bool { return true },
			},
			Origin: origin,
		}, nil
	case "gobwas":
		return &gobwas.Upgrader{Upgrader: ws.HTTPUpgrader{}, Origin: origin}, nil
	}
	return nil, ErrExplain{errUnknownTransport(transport), `Use --transport=gorilla or --transport=gobwas.`}
}

func newServer(config serveConfig) (*server, error) {
	upgrader, err := newUpgrader(config.Transport, config.Origin)
	if err != nil {
		return nil, err
	}
	return &server{
		ws:         upgrader,
		dispatcher: channel.NewDispatcher(nil),
		config:     config,
		tick:       250 * time.Millisecond,
	}, nil
}

func (s *server) Close() {
	s.dispatcher.Close()
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
		return
	}
	origin := r.Header.Get("Origin")
	if s.config.AllowOrigin != channel.AnyOrigin && origin != s.config.AllowOrigin {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := s.ws.Upgrade(r, w, nil)
	if err != nil {
		logger.Debugf("websocket upgrade error from %s: %s", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	remoteOrigin := s.config.AllowOrigin
	ch, err := channel.New(s.dispatcher, channel.Config{
		Window:    conn,
		Origin:    remoteOrigin,
		Scope:     s.config.Scope,
		Publish:   true,
		Reconnect: true,
		Debug: func(line string) {
			logger.Debugf("%s: %s", r.RemoteAddr, line)
		},
		OnReady: func(ch *channel.Channel) {
			logger.Infof("Channel ready: %s (origin %q)", r.RemoteAddr, conn.PeerOrigin())
		},
	})
	if err != nil {
		logger.Warningf("Failed to open channel for %s: %s", r.RemoteAddr, err)
		return
	}
	defer ch.Destroy()

	d := &demo{ch: ch, tick: s.tick}
	if err := d.Register(); err != nil {
		logger.Warningf("Failed to register methods: %s", err)
		return
	}
	if err := conn.Serve(s.dispatcher); err != nil {
		logger.Warningf("Connection from %s failed: %s", r.RemoteAddr, err)
	}
	logger.Debugf("Connection closed: %s", r.RemoteAddr)
}

type errUnknownTransport string

func (err errUnknownTransport) Error() string {
	return "unknown websocket transport: " + string(err)
}
