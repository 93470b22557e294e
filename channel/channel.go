package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vipnode/framechan/internal/ids"
	"github.com/vipnode/framechan/internal/pretty"
)

var (
	ErrMissingHandler   = errors.New("channel: handler is required")
	ErrNotifyCallbacks  = errors.New("channel: notifications cannot carry callbacks")
	errDuplicateRequest = errors.New("duplicate request id")
)

// HandlerFunc serves one inbound request or notification. Returning an error
// or panicking fails the request, see NormalizeError.
type HandlerFunc func(tx *Transaction, params json.RawMessage) (any, error)

// Config describes a Channel.
type Config struct {
	// Window is the remote context. Required.
	Window Endpoint
	// Origin is "*" or the http(s) origin of the remote context. Messages
	// from other origins are ignored and posted messages target it.
	Origin string
	// Scope namespaces the methods of this channel. It cannot contain "::".
	Scope string

	// Debug receives diagnostic lines.
	Debug func(string)
	// PostMessageObserver is called right before a message is posted.
	PostMessageObserver func(origin string, msg *Message)
	// GotMessageObserver is called once an inbound message passed the origin
	// and scope checks.
	GotMessageObserver func(origin string, msg *Message)
	// OnReady is called after each successful handshake.
	OnReady func(*Channel)

	// Reconnect allows repeated handshakes, e.g. when the remote context
	// reloads.
	Reconnect bool
	// Publish announces local Bind and Unbind calls to the peer.
	Publish bool
	// Remote lists remote methods to create stubs for right away.
	Remote []string
}

// CallOptions describes one outbound request.
type CallOptions struct {
	Method string
	// Params may contain Callback values anywhere inside map[string]any and
	// []any containers.
	Params any
	// Callbacks are extra callbacks keyed by path.
	Callbacks map[string]Callback

	// Success is called with the result. Required.
	Success func(result json.RawMessage)
	// Error is called with a wire error, including timeouts.
	Error func(code, message string)
	// Timeout bounds the wait for a response when positive.
	Timeout time.Duration
}

type bindOptions struct {
	skipPublish bool
}

// BindOption changes how Bind and Unbind behave.
type BindOption func(*bindOptions)

// SkipPublish keeps a Bind or Unbind from being announced to the peer.
func SkipPublish() BindOption {
	return func(o *bindOptions) {
		o.skipPublish = true
	}
}

// Channel is one end of an RPC link with a remote context.
type Channel struct {
	d      *Dispatcher
	window Endpoint
	origin string
	scope  string
	cfg    Config

	// name identifies the channel in log lines.
	name string

	mu        sync.Mutex
	id        string
	destroyed bool
	ready     bool
	flushing  bool
	handlers  map[string]HandlerFunc
	published map[string]bool
	outbound  map[uint64]*outboundCall
	inbound   map[uint64]*Transaction
	queue     []*Message
	publish   []publishEntry
	announced int
	stubs     map[string]*Stub
}

// New validates cfg, registers a Channel with the dispatcher and schedules
// the handshake.
func New(d *Dispatcher, cfg Config) (*Channel, error) {
	if d == nil {
		return nil, &ConfigError{Field: "dispatcher", Reason: "a dispatcher is required"}
	}
	if cfg.Window == nil {
		return nil, &ConfigError{Field: "window", Reason: "a remote window is required"}
	}
	if d.self != nil && cfg.Window == d.self {
		return nil, &ConfigError{Field: "window", Reason: "target window is same as present window, communication within the same context is not supported"}
	}
	origin, err := normalizeOrigin(cfg.Origin)
	if err != nil {
		return nil, err
	}
	scope := cfg.Scope
	if scope == "" {
		scope = DefaultScope
	} else if strings.Contains(scope, ScopeSeparator) {
		return nil, &ConfigError{Field: "scope", Reason: fmt.Sprintf("scope may not contain double colons: %q", scope)}
	}

	ch := &Channel{
		d:         d,
		window:    cfg.Window,
		origin:    origin,
		scope:     scope,
		cfg:       cfg,
		name:      ids.Short(),
		handlers:  map[string]HandlerFunc{},
		published: map[string]bool{},
		outbound:  map[uint64]*outboundCall{},
		inbound:   map[uint64]*Transaction{},
		stubs:     map[string]*Stub{},
	}
	ch.id = ch.name
	ch.handlers[methodReady] = ch.onReady
	ch.handlers[methodBind] = ch.onBind
	ch.handlers[methodUnbind] = ch.onUnbind

	if err := d.register(registryEntry{
		origin:  origin,
		scope:   scope,
		window:  cfg.Window,
		handler: ch.route,
	}); err != nil {
		return nil, err
	}

	for _, method := range cfg.Remote {
		if method != "" {
			ch.stubs[method] = &Stub{ch: ch, method: method}
		}
	}

	id := ch.id
	d.schedule(func() { ch.sendHandshake(id) })
	ch.debugf("channel built for origin %q, scope %q", origin, scope)
	return ch, nil
}

// ID returns the diagnostic identifier of the channel, or "" once destroyed.
func (ch *Channel) ID() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.id
}

// Origin returns the normalized origin pattern.
func (ch *Channel) Origin() string {
	return ch.origin
}

// Scope returns the scope of the channel.
func (ch *Channel) Scope() string {
	return ch.scope
}

// Ready reports whether the handshake completed.
func (ch *Channel) Ready() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.ready
}

func (ch *Channel) debugf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	logger.Debugf("Channel[%s]: %s", ch.name, line)
	if ch.cfg.Debug != nil {
		ch.cfg.Debug(fmt.Sprintf("[%s] %s", ch.name, line))
	}
}

// post sends msg, or queues it until the handshake completes unless force is
// set.
func (ch *Channel) post(msg *Message, force bool) error {
	ch.mu.Lock()
	if ch.destroyed {
		ch.mu.Unlock()
		return stateError("post", ErrDestroyed)
	}
	if !force && (!ch.ready || ch.flushing) {
		ch.queue = append(ch.queue, msg)
		ch.mu.Unlock()
		return nil
	}
	ch.mu.Unlock()
	return ch.send(msg)
}

func (ch *Channel) send(msg *Message) error {
	if ch.cfg.PostMessageObserver != nil {
		ch.cfg.PostMessageObserver(ch.origin, msg)
	}
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	ch.debugf("-> %s", pretty.Payload(data))
	return ch.window.PostMessage(data, ch.origin)
}

// route is registered with the dispatcher for every message meant for this
// channel.
func (ch *Channel) route(ev Event, method string, msg *Message) {
	if ev.Source != ch.window || !originMatches(ch.origin, ev.Origin) {
		ch.d.drop(ev, "foreign")
		return
	}
	ch.mu.Lock()
	destroyed := ch.destroyed
	ch.mu.Unlock()
	if destroyed {
		return
	}
	if ch.cfg.GotMessageObserver != nil {
		ch.cfg.GotMessageObserver(ev.Origin, msg)
	}
	ch.debugf("<- %s", msg)

	switch msg.Kind() {
	case KindRequest:
		ch.handleRequest(ev.Origin, method, msg)
	case KindNotification:
		ch.handleNotification(ev.Origin, method, msg)
	case KindCallback:
		ch.handleCallback(msg)
	case KindError, KindResponse:
		ch.handleResponse(msg)
	}
}

// callHandler runs h, turning a panic into a failure.
func callHandler(h HandlerFunc, tx *Transaction, params json.RawMessage) (result any, failure any) {
	defer func() {
		if r := recover(); r != nil {
			result, failure = nil, r
		}
	}()
	result, err := h(tx, params)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (ch *Channel) handleRequest(origin, method string, msg *Message) {
	ch.mu.Lock()
	h, ok := ch.handlers[method]
	if !ok {
		ch.mu.Unlock()
		ch.debugf("no such method %q", method)
		_ = ch.post(&Message{ID: msg.ID, Error: ErrCodeMethodNotFound, Message: fmt.Sprintf("No such method '%s'", method)}, false)
		return
	}
	if _, dup := ch.inbound[msg.ID]; dup {
		ch.mu.Unlock()
		ch.debugf("ignoring request %d: %s", msg.ID, errDuplicateRequest)
		return
	}
	tx := &Transaction{
		ch:        ch,
		id:        msg.ID,
		origin:    origin,
		params:    msg.Params,
		callbacks: msg.Callbacks,
	}
	ch.inbound[msg.ID] = tx
	ch.mu.Unlock()

	incr(MetricRequestCount, LabelScope.M(ch.scope))
	result, failure := callHandler(h, tx, msg.Params)
	if failure != nil {
		code, message := NormalizeError(failure)
		incr(MetricHandlerErrorCount, LabelScope.M(ch.scope), LabelCode.M(code))
		if err := tx.Error(code, message); err != nil {
			ch.debugf("handler for %q failed after completing: %s: %s", method, code, message)
		}
		return
	}
	if tx.isDelayed() || !tx.Open() {
		return
	}
	if err := tx.Complete(result); err != nil {
		ch.debugf("failed to complete %q: %s", method, err)
	}
}

func (ch *Channel) handleNotification(origin, method string, msg *Message) {
	ch.mu.Lock()
	h, ok := ch.handlers[method]
	ch.mu.Unlock()
	if !ok {
		ch.debugf("ignoring notification for unbound method %q", method)
		return
	}
	tx := &Transaction{ch: ch, origin: origin, params: msg.Params}
	_, failure := callHandler(h, tx, msg.Params)
	if failure == nil {
		return
	}
	if err, ok := failure.(error); ok && errors.Is(err, ErrUnexpectedReady) {
		logger.Warningf("Channel[%s]: %s", ch.name, err)
	}
	code, message := NormalizeError(failure)
	ch.debugf("notification handler for %q failed: %s: %s", method, code, message)
}

func (ch *Channel) handleCallback(msg *Message) {
	ch.mu.Lock()
	var cb Callback
	if call, ok := ch.outbound[msg.ID]; ok {
		cb = call.callbacks[msg.Callback]
	}
	ch.mu.Unlock()
	if cb == nil {
		ch.debugf("ignoring invocation of unknown callback %q for %d", msg.Callback, msg.ID)
		return
	}
	cb(msg.Params)
}

func (ch *Channel) handleResponse(msg *Message) {
	call := ch.evict(msg.ID)
	if call == nil {
		ch.debugf("ignoring response for unknown transaction %d", msg.ID)
		return
	}
	if msg.Kind() == KindError {
		incr(MetricCallErrorCount, LabelScope.M(ch.scope), LabelCode.M(msg.Error))
	}
	call.resolve(msg)
}

// evict removes an outbound call from both tables and disarms its timer.
func (ch *Channel) evict(id uint64) *outboundCall {
	ch.mu.Lock()
	call, ok := ch.outbound[id]
	if ok {
		delete(ch.outbound, id)
		call.stop()
	}
	ch.mu.Unlock()
	if !ok {
		return nil
	}
	ch.d.forget(id)
	return call
}

func (ch *Channel) expire(id uint64) {
	call := ch.evict(id)
	if call == nil {
		return
	}
	incr(MetricCallTimeoutCount, LabelScope.M(ch.scope))
	ch.debugf("call %d to %q timed out after %s", id, call.method, time.Since(call.timestamp))
	if call.fail != nil {
		call.fail(ErrCodeTimeout, fmt.Sprintf("timeout (%s) exceeded on method '%s'", call.timeout, call.method))
	}
}

// Call sends a request. Exactly one of opts.Success and opts.Error will be
// called later, on the dispatcher loop, unless the channel is destroyed first.
func (ch *Channel) Call(opts CallOptions) error {
	_, err := ch.call(opts)
	return err
}

func (ch *Channel) call(opts CallOptions) (uint64, error) {
	if opts.Method == "" {
		return 0, ErrMissingMethod
	}
	if opts.Success == nil {
		return 0, ErrMissingSuccess
	}
	params, callbacks, paths, err := extractCallbacks(opts.Params, opts.Callbacks)
	if err != nil {
		return 0, err
	}
	raw, err := marshalParams(params)
	if err != nil {
		return 0, err
	}

	ch.mu.Lock()
	if ch.destroyed {
		ch.mu.Unlock()
		return 0, stateError("call", ErrDestroyed)
	}
	id := ch.d.nextID()
	call := &outboundCall{
		method:    opts.Method,
		success:   opts.Success,
		fail:      opts.Error,
		callbacks: callbacks,
		timeout:   opts.Timeout,
		timestamp: time.Now(),
	}
	if opts.Timeout > 0 {
		call.timer = ch.d.after(opts.Timeout, func() { ch.expire(id) })
	}
	ch.outbound[id] = call
	ch.d.track(id, ch.route)
	ch.mu.Unlock()

	incr(MetricCallCount, LabelScope.M(ch.scope))
	msg := &Message{
		ID:        id,
		Method:    scopedMethod(ch.scope, opts.Method),
		Params:    raw,
		Callbacks: paths,
	}
	if err := ch.post(msg, false); err != nil {
		ch.evict(id)
		return 0, err
	}
	return id, nil
}

// Notify sends a fire-and-forget message.
func (ch *Channel) Notify(method string, params any) error {
	if method == "" {
		return ErrMissingMethod
	}
	pruned, callbacks, _, err := extractCallbacks(params, nil)
	if err != nil {
		return err
	}
	if len(callbacks) > 0 {
		return ErrNotifyCallbacks
	}
	raw, err := marshalParams(pruned)
	if err != nil {
		return err
	}
	incr(MetricNotifyCount, LabelScope.M(ch.scope))
	return ch.post(&Message{Method: scopedMethod(ch.scope, method), Params: raw}, false)
}

// Bind registers a handler for method. With Config.Publish, the peer is told
// about it unless SkipPublish is given.
func (ch *Channel) Bind(method string, h HandlerFunc, opts ...BindOption) error {
	if method == "" {
		return ErrMissingMethod
	}
	if h == nil {
		return ErrMissingHandler
	}
	if isReserved(method) {
		return stateError("bind "+method, ErrReservedMethod)
	}
	var o bindOptions
	for _, opt := range opts {
		opt(&o)
	}

	ch.mu.Lock()
	if ch.destroyed {
		ch.mu.Unlock()
		return stateError("bind "+method, ErrDestroyed)
	}
	if _, ok := ch.handlers[method]; ok {
		ch.mu.Unlock()
		return stateError("bind "+method, ErrAlreadyBound)
	}
	ch.handlers[method] = h
	announce := ch.announceLocked(publishBind, method, o.skipPublish)
	ch.mu.Unlock()

	if announce != nil {
		return ch.post(announce, false)
	}
	return nil
}

// Unbind removes the handler for method and reports whether it was bound.
func (ch *Channel) Unbind(method string, opts ...BindOption) bool {
	if isReserved(method) {
		return false
	}
	var o bindOptions
	for _, opt := range opts {
		opt(&o)
	}

	ch.mu.Lock()
	if _, ok := ch.handlers[method]; !ok || ch.destroyed {
		ch.mu.Unlock()
		return false
	}
	delete(ch.handlers, method)
	announce := ch.announceLocked(publishUnbind, method, o.skipPublish)
	ch.mu.Unlock()

	if announce != nil {
		if err := ch.post(announce, false); err != nil {
			ch.debugf("failed to announce unbind of %q: %s", method, err)
		}
	}
	return true
}

// Methods returns the locally bound methods.
func (ch *Channel) Methods() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	methods := make([]string, 0, len(ch.handlers))
	for method := range ch.handlers {
		if !isReserved(method) {
			methods = append(methods, method)
		}
	}
	sort.Strings(methods)
	return methods
}

// Destroy unregisters the channel and drops all of its state. Outstanding
// calls are never resolved.
func (ch *Channel) Destroy() {
	ch.mu.Lock()
	if ch.destroyed {
		ch.mu.Unlock()
		return
	}
	ch.debugf("destroying channel")
	ch.destroyed = true
	ch.ready = false
	ch.flushing = false
	ch.id = ""
	outbound := ch.outbound
	for _, call := range outbound {
		call.stop()
	}
	ch.handlers = map[string]HandlerFunc{}
	ch.published = map[string]bool{}
	ch.outbound = map[uint64]*outboundCall{}
	ch.inbound = map[uint64]*Transaction{}
	ch.queue = nil
	ch.publish = nil
	ch.announced = 0
	ch.stubs = map[string]*Stub{}
	ch.mu.Unlock()

	ch.d.unregister(ch.window, ch.origin, ch.scope)
	for id := range outbound {
		ch.d.forget(id)
	}
}
