package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vipnode/framechan/channel"
	"golang.org/x/sync/errgroup"
)

func startServer(t *testing.T, transport string) string {
	t.Helper()
	handler, err := newServer(serveConfig{
		AllowOrigin: "*",
		Origin:      "https://server.example",
		Transport:   transport,
	})
	if err != nil {
		t.Fatal(err)
	}
	handler.tick = time.Millisecond
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		handler.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func call(t *testing.T, url, transport, method, params string, callbacks ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := runCall(context.Background(), &out, callConfig{
		URL:       url,
		Method:    method,
		Params:    params,
		Origin:    "https://client.example",
		Transport: transport,
		Timeout:   2 * time.Second,
		Callbacks: callbacks,
	})
	return out.String(), err
}

func TestServeCall(t *testing.T) {
	for _, transport := range []string{"gorilla", "gobwas"} {
		url := startServer(t, transport)

		out, err := call(t, url, transport, "add", "[1, 2, 3.5]")
		if err != nil {
			t.Fatalf("%s: %s", transport, err)
		}
		if out != "6.5\n" {
			t.Errorf("%s: got %q", transport, out)
		}

		out, err = call(t, url, transport, "countdown", `{"from": 3}`, "onTick")
		if err != nil {
			t.Fatalf("%s: %s", transport, err)
		}
		if want := "onTick: 3\nonTick: 2\nonTick: 1\n\"liftoff\"\n"; out != want {
			t.Errorf("%s: got %q; want %q", transport, out, want)
		}

		out, err = call(t, url, transport, "whoami", "")
		if err != nil {
			t.Fatalf("%s: %s", transport, err)
		}
		if out != "\"https://client.example\"\n" {
			t.Errorf("%s: got %q", transport, out)
		}
	}
}

func TestServeConcurrentCalls(t *testing.T) {
	url := startServer(t, "gorilla")
	g := errgroup.Group{}
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			out, err := call(t, url, "gorilla", "echo", `{"a":1}`)
			if err != nil {
				return err
			}
			if out != "{\"a\":1}\n" {
				t.Errorf("got %q", out)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestCallErrors(t *testing.T) {
	url := startServer(t, "gorilla")

	testcases := []struct {
		Method string
		Params string
		Code   string
	}{
		{"nope", "", channel.ErrCodeMethodNotFound},
		{"fail", `{"code": "E_TEAPOT", "message": "short and stout"}`, "E_TEAPOT"},
		{"fail", `{"message": "boom"}`, channel.ErrCodeRuntime},
		{"add", `"not a list"`, "bad_params"},
	}
	for _, tc := range testcases {
		_, err := call(t, url, "gorilla", tc.Method, tc.Params)
		var wireErr *channel.Error
		if !errors.As(err, &wireErr) {
			t.Errorf("%s: got %v; want *channel.Error", tc.Method, err)
			continue
		}
		if wireErr.Code != tc.Code {
			t.Errorf("%s: got code %q; want %q", tc.Method, wireErr.Code, tc.Code)
		}
		var explained ErrExplain
		if !errors.As(explain(err), &explained) {
			t.Errorf("%s: error was not explained", tc.Method)
		}
	}

	if _, err := call(t, url, "gorilla", "echo", "{bad json"); err == nil {
		t.Error("expected an error for bad params")
	}
	if _, err := call(t, url, "carrier-pigeon", "echo", ""); err == nil {
		t.Error("expected an error for an unknown transport")
	}
}

func TestMethodsIntrospection(t *testing.T) {
	url := startServer(t, "gorilla")
	out, err := call(t, url, "gorilla", "methods", "")
	if err != nil {
		t.Fatal(err)
	}
	want := `["add","countdown","echo","fail","methods","whoami"]` + "\n"
	if out != want {
		t.Errorf("got %q; want %q", out, want)
	}
}

func TestAllowOrigin(t *testing.T) {
	handler, err := newServer(serveConfig{AllowOrigin: "https://only.example", Transport: "gorilla"})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()
	defer handler.Close()

	_, err = call(t, "ws"+strings.TrimPrefix(srv.URL, "http"), "gorilla", "echo", "")
	if err == nil {
		t.Error("expected the connection to be refused")
	}
}

func TestConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	conf := `
[serve]
bind = "127.0.0.1:9000"
transport = "gobwas"

[call]
origin = "https://config.example"
timeout = "250ms"
`
	if err := os.WriteFile(path, []byte(conf), 0600); err != nil {
		t.Fatal(err)
	}
	fc, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	var options Options
	options.Serve.Transport = "gorilla"
	serve := serveSettings(options, fc)
	if serve.Bind != "127.0.0.1:9000" {
		t.Errorf("got bind %q", serve.Bind)
	}
	if serve.Transport != "gorilla" {
		t.Errorf("flag should win over config, got %q", serve.Transport)
	}
	if serve.AllowOrigin != "*" {
		t.Errorf("got allow origin %q", serve.AllowOrigin)
	}

	settings, err := callSettings(options, fc)
	if err != nil {
		t.Fatal(err)
	}
	if settings.Origin != "https://config.example" || settings.Timeout != 250*time.Millisecond {
		t.Errorf("got %+v", settings)
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected an error for a missing config")
	}
}

func TestExplain(t *testing.T) {
	err := explain(context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("explained error should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "--timeout") {
		t.Errorf("got %q", err)
	}
	already := ErrExplain{errors.New("x"), "y"}
	if explain(already) != error(already) {
		t.Error("explained errors should be kept")
	}
}
