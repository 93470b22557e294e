package channel

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// eventually polls cond until it holds or the test times out.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func remoteMethods(ch *Channel) string {
	return strings.Join(ch.RemoteMethods(), ",")
}

func TestHandshakeOnce(t *testing.T) {
	p := newPair(t, Config{}, Config{})
	p.waitReady(t)
	if !p.a.Ready() || !p.b.Ready() {
		t.Fatal("both sides should be ready")
	}
	expectNothing(t, p.readyA, 20*time.Millisecond, "second ready on a")
	expectNothing(t, p.readyB, time.Millisecond, "second ready on b")

	// Without reconnect, the ready handler is gone after the handshake.
	p.a.mu.Lock()
	_, ok := p.a.handlers[methodReady]
	p.a.mu.Unlock()
	if ok {
		t.Error("ready handler should be unbound")
	}
}

func TestRemoteStubs(t *testing.T) {
	p := newPair(t, Config{Remote: []string{"echo", ""}}, Config{})
	if got := remoteMethods(p.a); got != "echo" {
		t.Errorf("got remote methods %q; want echo", got)
	}
	if err := p.b.Bind("echo", echo); err != nil {
		t.Fatal(err)
	}
	stub, ok := p.a.Remote("echo")
	if !ok {
		t.Fatal("missing stub")
	}
	if stub.Method() != "echo" {
		t.Errorf("got method %q", stub.Method())
	}
	got := make(chan string, 1)
	if err := stub.Call("hi", func(r json.RawMessage) { got <- string(r) }, nil); err != nil {
		t.Fatal(err)
	}
	if r := wait(t, got, "stub reply"); r != `"hi"` {
		t.Errorf("got %s", r)
	}
	if _, ok := p.a.Remote("other"); ok {
		t.Error("unexpected stub")
	}
}

func TestPublishBeforeReady(t *testing.T) {
	fa, fb := Pipe(originA, originB)
	defer fa.Close()
	defer fb.Close()

	block := make(chan struct{})
	fa.Dispatcher().schedule(func() { <-block })

	a, err := New(fa.Dispatcher(), Config{Window: fa.Window(fb), Origin: originB, Publish: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, method := range []string{"foo", "bar", "gone"} {
		if err := a.Bind(method, echo); err != nil {
			t.Fatal(err)
		}
	}
	a.Unbind("gone")
	if err := a.Bind("private", echo, SkipPublish()); err != nil {
		t.Fatal(err)
	}

	b, err := New(fb.Dispatcher(), Config{Window: fb.Window(fa), Origin: originA})
	if err != nil {
		t.Fatal(err)
	}
	close(block)

	eventually(t, "published stubs", func() bool {
		return remoteMethods(b) == "bar,foo"
	})

	stub, _ := b.Remote("foo")
	var out string
	if err := stub.CallContext(testContext(t), &out, "published"); err != nil {
		t.Fatal(err)
	}
	if out != "published" {
		t.Errorf("got %q", out)
	}
}

func TestPublishAfterReady(t *testing.T) {
	p := newPair(t, Config{Publish: true}, Config{})
	p.waitReady(t)

	if err := p.a.Bind("late", echo); err != nil {
		t.Fatal(err)
	}
	eventually(t, "bind announcement", func() bool {
		return remoteMethods(p.b) == "late"
	})

	p.a.Unbind("late")
	eventually(t, "unbind announcement", func() bool {
		return remoteMethods(p.b) == ""
	})

	if err := p.a.Bind("quiet", echo, SkipPublish()); err != nil {
		t.Fatal(err)
	}
	drain(t, p.frameA.Dispatcher())
	drain(t, p.frameB.Dispatcher())
	if got := remoteMethods(p.b); got != "" {
		t.Errorf("skipped publish leaked: %q", got)
	}
}

func TestReconnect(t *testing.T) {
	p := newPair(t, Config{}, Config{Reconnect: true, Publish: true})
	p.waitReady(t)
	expectNothing(t, p.readyB, 20*time.Millisecond, "second ready on b")
	if err := p.b.Bind("svc", echo); err != nil {
		t.Fatal(err)
	}

	// The context behind a reloads: its old channel is gone and a new one
	// starts over.
	p.a.Destroy()
	ready := make(chan struct{}, 1)
	a, err := New(p.frameA.Dispatcher(), Config{
		Window:  p.frameA.Window(p.frameB),
		Origin:  originB,
		OnReady: func(*Channel) { ready <- struct{}{} },
	})
	if err != nil {
		t.Fatal(err)
	}
	wait(t, ready, "reconnected channel ready")
	wait(t, p.readyB, "second handshake on b")

	eventually(t, "re-advertised stubs", func() bool {
		return remoteMethods(a) == "svc"
	})
	expectNothing(t, p.readyB, 20*time.Millisecond, "third ready on b")
	expectNothing(t, ready, time.Millisecond, "second ready on reconnected channel")
}

func TestReconnectCrossedPings(t *testing.T) {
	fa, fb := Pipe(originA, originB)
	defer fa.Close()
	defer fb.Close()

	// Hold both loops so that each side pings before it sees the other's.
	block := make(chan struct{})
	fa.Dispatcher().schedule(func() { <-block })
	fb.Dispatcher().schedule(func() { <-block })

	var readyA, readyB atomic.Int32
	a, err := New(fa.Dispatcher(), Config{
		Window:    fa.Window(fb),
		Origin:    originB,
		Reconnect: true,
		Publish:   true,
		OnReady:   func(*Channel) { readyA.Add(1) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Bind("svc", echo); err != nil {
		t.Fatal(err)
	}
	b, err := New(fb.Dispatcher(), Config{
		Window:    fb.Window(fa),
		Origin:    originA,
		Reconnect: true,
		OnReady:   func(*Channel) { readyB.Add(1) },
	})
	if err != nil {
		t.Fatal(err)
	}
	close(block)

	eventually(t, "both ready", func() bool { return a.Ready() && b.Ready() })
	for i := 0; i < 2; i++ {
		drain(t, fa.Dispatcher())
		drain(t, fb.Dispatcher())
	}
	if got := readyA.Load(); got != 1 {
		t.Errorf("OnReady ran %d times on a; want 1", got)
	}
	if got := readyB.Load(); got != 1 {
		t.Errorf("OnReady ran %d times on b; want 1", got)
	}
	if got := remoteMethods(b); got != "svc" {
		t.Errorf("got remote methods %q; want svc", got)
	}
}

func TestNoReconnect(t *testing.T) {
	p := newPair(t, Config{}, Config{})
	p.waitReady(t)

	p.a.Destroy()
	ready := make(chan struct{}, 1)
	if _, err := New(p.frameA.Dispatcher(), Config{
		Window:  p.frameA.Window(p.frameB),
		Origin:  originB,
		OnReady: func(*Channel) { ready <- struct{}{} },
	}); err != nil {
		t.Fatal(err)
	}
	drain(t, p.frameA.Dispatcher())
	drain(t, p.frameB.Dispatcher())
	drain(t, p.frameA.Dispatcher())
	expectNothing(t, ready, 20*time.Millisecond, "handshake without reconnect")
	expectNothing(t, p.readyB, time.Millisecond, "second handshake on b")
}
