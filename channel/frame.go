package channel

import "sync"

// Frame is an in-process context with its own Dispatcher. Frames post to each
// other through the Endpoints returned by Window, asynchronously.
type Frame struct {
	origin     string
	dispatcher *Dispatcher

	mu      sync.Mutex
	windows map[*Frame]*frameWindow
}

// NewFrame creates a context at origin and starts its Dispatcher.
func NewFrame(origin string, opts ...Option) *Frame {
	f := &Frame{
		origin:  origin,
		windows: map[*Frame]*frameWindow{},
	}
	f.dispatcher = NewDispatcher(f.Window(f), opts...)
	return f
}

// Pipe creates two frames at the given origins. Useful for testing.
func Pipe(originA, originB string, opts ...Option) (*Frame, *Frame) {
	return NewFrame(originA, opts...), NewFrame(originB, opts...)
}

// Origin returns the origin of the frame.
func (f *Frame) Origin() string {
	return f.origin
}

// Dispatcher returns the shared listener of the frame.
func (f *Frame) Dispatcher() *Dispatcher {
	return f.dispatcher
}

// Window returns the Endpoint through which f posts to other. The same
// Endpoint is returned for the same pair of frames.
func (f *Frame) Window(other *Frame) Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[other]
	if !ok {
		w = &frameWindow{from: f, to: other}
		f.windows[other] = w
	}
	return w
}

// Close stops the frame's dispatcher.
func (f *Frame) Close() {
	f.dispatcher.Close()
}

type frameWindow struct {
	from *Frame
	to   *Frame
}

// PostMessage delivers a copy of data to the target frame, unless its origin
// does not match targetOrigin.
func (w *frameWindow) PostMessage(data []byte, targetOrigin string) error {
	if targetOrigin != AnyOrigin && targetOrigin != w.to.origin {
		return nil
	}
	buf := append([]byte(nil), data...)
	w.to.dispatcher.Deliver(Event{
		Data:   buf,
		Origin: w.from.origin,
		Source: w.to.Window(w.from),
	})
	return nil
}
