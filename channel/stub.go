package channel

import (
	"context"
	"encoding/json"
	"sort"
)

// Stub calls one remote method. Stubs are created from the Config.Remote
// list and from methods the peer publishes.
type Stub struct {
	ch     *Channel
	method string
}

// Method returns the remote method name.
func (s *Stub) Method() string {
	return s.method
}

// Call sends a request to the remote method, see Channel.Call.
func (s *Stub) Call(params any, success func(result json.RawMessage), fail func(code, message string)) error {
	return s.ch.Call(CallOptions{
		Method:  s.method,
		Params:  params,
		Success: success,
		Error:   fail,
	})
}

// CallContext calls the remote method and waits for the result, see
// Channel.CallContext.
func (s *Stub) CallContext(ctx context.Context, result any, params any) error {
	return s.ch.CallContext(ctx, result, s.method, params)
}

// Notify sends a notification to the remote method.
func (s *Stub) Notify(params any) error {
	return s.ch.Notify(s.method, params)
}

func (ch *Channel) addStub(method string) {
	if method == "" {
		return
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if _, ok := ch.stubs[method]; !ok {
		ch.stubs[method] = &Stub{ch: ch, method: method}
	}
}

func (ch *Channel) removeStub(method string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.stubs, method)
}

// Remote returns the stub for a remote method, if the peer published it or
// it was listed in Config.Remote.
func (ch *Channel) Remote(method string) (*Stub, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	s, ok := ch.stubs[method]
	return s, ok
}

// RemoteMethods returns the names of all remote stubs.
func (ch *Channel) RemoteMethods() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	methods := make([]string, 0, len(ch.stubs))
	for method := range ch.stubs {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}
