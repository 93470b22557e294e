package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/vipnode/framechan/channel"
	channelws "github.com/vipnode/framechan/channel/ws"
	"github.com/vipnode/framechan/channel/ws/gobwas"
	"github.com/vipnode/framechan/channel/ws/gorilla"
	"github.com/vipnode/framechan/internal/jsoncodec"
	"golang.org/x/sync/errgroup"
)

func dial(ctx context.Context, transport, url, origin string) (*channelws.Conn, error) {
	switch transport {
	case "", "gorilla":
		return gorilla.Dial(ctx, url, origin)
	case "gobwas":
		return gobwas.Dial(ctx, url, origin)
	}
	return nil, ErrExplain{errUnknownTransport(transport), `Use --transport=gorilla or --transport=gobwas.`}
}

// runCall connects to a server, waits for the handshake and makes one call.
// Callback invocations and the result are written to out, one per line.
func runCall(ctx context.Context, out io.Writer, config callConfig) error {
	var params any
	if config.Params != "" {
		if err := jsoncodec.Unmarshal([]byte(config.Params), &params); err != nil {
			return ErrExplain{err, `Params must be valid JSON, e.g. '{"from": 3}' or '[1, 2]'.`}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	conn, err := dial(ctx, config.Transport, config.URL, config.Origin)
	if err != nil {
		return ErrExplain{err, "Failed to connect to the framechan server."}
	}
	defer conn.Close()

	d := channel.NewDispatcher(nil)
	defer d.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return conn.Serve(d)
	})

	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}
	callbacks := map[string]channel.Callback{}
	for _, path := range config.Callbacks {
		path := path
		callbacks[path] = func(params json.RawMessage) {
			printf("%s: %s\n", path, params)
		}
	}

	done := make(chan error, 1)
	ch, err := channel.New(d, channel.Config{
		Window: conn,
		Origin: channel.AnyOrigin,
		Scope:  config.Scope,
		Debug: func(line string) {
			logger.Debug(line)
		},
		OnReady: func(ch *channel.Channel) {
			logger.Infof("Connected to %s, remote methods: %v", config.URL, ch.RemoteMethods())
		},
	})
	if err != nil {
		return err
	}
	defer ch.Destroy()

	err = ch.Call(channel.CallOptions{
		Method:    config.Method,
		Params:    params,
		Callbacks: callbacks,
		Timeout:   config.Timeout,
		Success: func(result json.RawMessage) {
			printf("%s\n", result)
			done <- nil
		},
		Error: func(code, message string) {
			done <- channel.NewError(code, message)
		},
	})
	if err != nil {
		return err
	}

	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	conn.Close()
	if serveErr := g.Wait(); err == nil && serveErr != nil {
		err = serveErr
	}
	return err
}
