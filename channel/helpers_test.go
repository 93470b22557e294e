package channel

import (
	"encoding/json"
	"testing"
	"time"
)

const (
	originA = "https://a.example"
	originB = "https://b.example"
)

var testTimeout = 2 * time.Second

// pair is two connected channels living in separate frames.
type pair struct {
	frameA, frameB *Frame
	a, b           *Channel
	readyA, readyB chan struct{}
}

// newPair builds channels on both sides of a Pipe. The configs get their
// Window, Origin and OnReady filled in when unset.
func newPair(t *testing.T, cfgA, cfgB Config) *pair {
	t.Helper()
	fa, fb := Pipe(originA, originB)
	t.Cleanup(func() {
		fa.Close()
		fb.Close()
	})
	p := &pair{
		frameA: fa,
		frameB: fb,
		readyA: make(chan struct{}, 4),
		readyB: make(chan struct{}, 4),
	}
	fill := func(cfg *Config, local, remote *Frame, ready chan struct{}) {
		if cfg.Window == nil {
			cfg.Window = local.Window(remote)
		}
		if cfg.Origin == "" {
			cfg.Origin = remote.Origin()
		}
		onReady := cfg.OnReady
		cfg.OnReady = func(ch *Channel) {
			if onReady != nil {
				onReady(ch)
			}
			ready <- struct{}{}
		}
	}
	fill(&cfgA, fa, fb, p.readyA)
	fill(&cfgB, fb, fa, p.readyB)

	var err error
	if p.a, err = New(fa.Dispatcher(), cfgA); err != nil {
		t.Fatal(err)
	}
	if p.b, err = New(fb.Dispatcher(), cfgB); err != nil {
		t.Fatal(err)
	}
	return p
}

func (p *pair) waitReady(t *testing.T) {
	t.Helper()
	wait(t, p.readyA, "channel a ready")
	wait(t, p.readyB, "channel b ready")
}

func wait[T any](t *testing.T, c <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-c:
		return v
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

// expectNothing fails if c receives within d.
func expectNothing[T any](t *testing.T, c <-chan T, d time.Duration, what string) {
	t.Helper()
	select {
	case v := <-c:
		t.Fatalf("unexpected %s: %v", what, v)
	case <-time.After(d):
	}
}

// drain runs an empty task on the dispatcher loop and waits for it, so that
// everything queued before has been processed.
func drain(t *testing.T, d *Dispatcher) {
	t.Helper()
	done := make(chan struct{})
	d.schedule(func() { close(done) })
	wait(t, done, "dispatcher loop")
}

type reply struct {
	Result  json.RawMessage
	Code    string
	Message string
}

// callReply issues a call and returns a channel receiving its resolution.
func callReply(t *testing.T, ch *Channel, opts CallOptions) <-chan reply {
	t.Helper()
	out := make(chan reply, 2)
	opts.Success = func(r json.RawMessage) {
		out <- reply{Result: r}
	}
	opts.Error = func(code, message string) {
		out <- reply{Code: code, Message: message}
	}
	if err := ch.Call(opts); err != nil {
		t.Fatal(err)
	}
	return out
}

func echo(tx *Transaction, params json.RawMessage) (any, error) {
	return params, nil
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
