package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	metrics "github.com/hashicorp/go-metrics"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"
)

// setupMetrics routes the channel counters to an in-memory sink, dumped to
// stderr on SIGUSR1.
func setupMetrics() (*metrics.InmemSink, error) {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(sink)

	conf := metrics.DefaultConfig("")
	conf.EnableHostname = false
	conf.EnableRuntimeMetrics = false
	if _, err := metrics.NewGlobal(conf, sink); err != nil {
		return nil, err
	}
	return sink, nil
}

func listen(config serveConfig) (net.Listener, string, error) {
	if config.TLSHost != "" {
		if !strings.HasSuffix(config.Bind, ":443") {
			logger.Warningf("Ignoring --bind value (%q) because it's not 443 and --tlshost is set.", config.Bind)
		}
		return autocert.NewListener(config.TLSHost), "wss://" + config.TLSHost, nil
	}
	l, err := net.Listen("tcp", config.Bind)
	if err != nil {
		return nil, "", err
	}
	return l, "ws://" + l.Addr().String(), nil
}

func runServe(ctx context.Context, config serveConfig) error {
	if _, err := setupMetrics(); err != nil {
		return err
	}
	handler, err := newServer(config)
	if err != nil {
		return err
	}
	defer handler.Close()

	l, addr, err := listen(config)
	if err != nil {
		if strings.HasSuffix(err.Error(), "bind: permission denied") {
			err = ErrExplain{err, "Binding to low-numbered ports requires CAP_NET_BIND_SERVICE capability permission. Try a --bind port above 1024."}
		}
		return err
	}
	srv := &http.Server{Handler: handler}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Starting framechan server (version %s, %s transport), listening on: %s", Version, config.Transport, addr)
		if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
