package channel

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestFrameTargetOrigin(t *testing.T) {
	fa, fb := Pipe(originA, originB)
	defer fa.Close()
	defer fb.Close()

	if fa.Window(fb) != fa.Window(fb) {
		t.Error("windows should be cached per frame pair")
	}
	if fa.Dispatcher().Self() != fa.Window(fa) {
		t.Error("dispatcher should know its own window")
	}

	got := make(chan *Message, 4)
	if _, err := New(fb.Dispatcher(), Config{
		Window: fb.Window(fa),
		Origin: originA,
		GotMessageObserver: func(origin string, msg *Message) {
			got <- msg
		},
	}); err != nil {
		t.Fatal(err)
	}
	drain(t, fb.Dispatcher())

	w := fa.Window(fb)
	note := []byte(`{"method":"nope"}`)
	if err := w.PostMessage(note, "https://elsewhere.example"); err != nil {
		t.Fatal(err)
	}
	drain(t, fb.Dispatcher())
	expectNothing(t, got, 10*time.Millisecond, "message for another origin")

	if err := w.PostMessage(note, AnyOrigin); err != nil {
		t.Fatal(err)
	}
	// The copy delivered is not affected by later writes.
	note[2] = 'X'
	msg := wait(t, got, "message")
	if msg.Method != "nope" {
		t.Errorf("got %s", msg)
	}
}

func ExamplePipe() {
	fa, fb := Pipe("https://parent.example", "https://child.example")
	defer fa.Close()
	defer fb.Close()

	child, _ := New(fb.Dispatcher(), Config{Window: fb.Window(fa), Origin: fa.Origin()})
	child.Bind("greet", func(tx *Transaction, params json.RawMessage) (any, error) {
		var name string
		if err := json.Unmarshal(params, &name); err != nil {
			return nil, err
		}
		return "hello " + name, nil
	})

	parent, _ := New(fa.Dispatcher(), Config{Window: fa.Window(fb), Origin: fb.Origin()})
	done := make(chan struct{})
	parent.Call(CallOptions{
		Method: "greet",
		Params: "frame",
		Success: func(result json.RawMessage) {
			fmt.Println(string(result))
			close(done)
		},
	})
	<-done
	// Output: "hello frame"
}
