package channel

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/vipnode/framechan/internal/pretty"
)

// Endpoint is a remote context that messages can be posted to. Endpoints are
// compared by identity, so implementations should be pointer types.
type Endpoint interface {
	// PostMessage delivers data to the remote context unless its origin does
	// not match targetOrigin, in which case the message is silently dropped.
	PostMessage(data []byte, targetOrigin string) error
}

// Event is an inbound message as seen by the shared listener of a context.
type Event struct {
	Data []byte
	// Origin of the sending context.
	Origin string
	// Source is the local Endpoint for the sending context.
	Source Endpoint
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithIDSeed sets the first transaction id. Even seeds are made odd.
func WithIDSeed(seed uint64) Option {
	return func(d *Dispatcher) {
		d.lastID = (seed | 1) - 1
	}
}

// Dispatcher is the shared listener of a context. It owns the registry of
// channels, the table of outstanding transactions and the event loop on which
// every protocol callback runs.
type Dispatcher struct {
	self Endpoint

	mu       sync.Mutex
	registry registry
	pending  map[uint64]routeFunc
	lastID   uint64

	loopMu sync.Mutex
	tasks  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// NewDispatcher starts the shared listener for the local context self. self
// may be nil when the local context cannot be posted to.
func NewDispatcher(self Endpoint, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		self:     self,
		registry: registry{},
		pending:  map[uint64]routeFunc{},
		lastID:   randomSeed() - 1,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.loop()
	return d
}

// randomSeed returns a random odd number, so that dispatchers started
// independently in the same context are unlikely to hand out the same ids.
func randomSeed() uint64 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano()&0xfffff) | 1
	}
	return uint64(binary.BigEndian.Uint32(b[:])>>12) | 1
}

// Self returns the local context's endpoint, if any.
func (d *Dispatcher) Self() Endpoint {
	return d.self
}

// Deliver queues an inbound event for dispatch. It never blocks.
func (d *Dispatcher) Deliver(ev Event) {
	d.schedule(func() { d.dispatch(ev) })
}

// Close stops the event loop. Queued and later events are dropped.
func (d *Dispatcher) Close() {
	d.loopMu.Lock()
	defer d.loopMu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.tasks = nil
	close(d.done)
}

// schedule runs fn on the event loop after everything queued before it.
func (d *Dispatcher) schedule(fn func()) {
	d.loopMu.Lock()
	if d.closed {
		d.loopMu.Unlock()
		return
	}
	d.tasks = append(d.tasks, fn)
	d.loopMu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// after runs fn on the event loop once duration has passed.
func (d *Dispatcher) after(duration time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(duration, func() { d.schedule(fn) })
}

func (d *Dispatcher) next() (func(), bool) {
	d.loopMu.Lock()
	defer d.loopMu.Unlock()
	if len(d.tasks) == 0 {
		return nil, false
	}
	fn := d.tasks[0]
	d.tasks[0] = nil
	d.tasks = d.tasks[1:]
	return fn, true
}

func (d *Dispatcher) loop() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}
		for {
			fn, ok := d.next()
			if !ok {
				break
			}
			fn()
		}
	}
}

func (d *Dispatcher) nextID() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastID++
	if d.lastID == 0 {
		d.lastID++
	}
	return d.lastID
}

func (d *Dispatcher) register(e registryEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.add(e)
}

func (d *Dispatcher) unregister(window Endpoint, origin, scope string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registry.remove(window, origin, scope)
}

// track routes later messages carrying id to handler.
func (d *Dispatcher) track(id uint64, handler routeFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[id] = handler
}

func (d *Dispatcher) forget(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, id)
}

func (d *Dispatcher) drop(ev Event, reason string) {
	logger.Debugf("Dispatcher: dropping message from %q (%s): %s", ev.Origin, reason, pretty.Payload(ev.Data))
	incr(MetricDroppedCount, LabelReason.M(reason))
}

func (d *Dispatcher) dispatch(ev Event) {
	msg, err := decodeMessage(ev.Data)
	if err != nil {
		d.drop(ev, "malformed")
		return
	}

	var handler routeFunc
	var method string
	if msg.Method != "" {
		scope, m, ok := splitMethod(msg.Method)
		if !ok {
			d.drop(ev, "bad method")
			return
		}
		method = m
		d.mu.Lock()
		handler = d.registry.lookup(ev.Source, ev.Origin, scope)
		d.mu.Unlock()
	} else if msg.ID != 0 {
		d.mu.Lock()
		handler = d.pending[msg.ID]
		d.mu.Unlock()
	}
	if handler == nil {
		d.drop(ev, "unrouted")
		return
	}
	handler(ev, method, msg)
}
