package channel

import (
	"encoding/json"
	"sort"

	"github.com/vipnode/framechan/internal/jsoncodec"
)

const (
	handshakePing = "ping"
	handshakePong = "pong"

	publishBind   = "bind"
	publishUnbind = "unbind"
)

// handshake is the params of a __ready notification. The side that starts
// the exchange sends a ping, the other side replies with a pong.
type handshake struct {
	Type    string         `json:"type"`
	Publish []publishEntry `json:"publish,omitempty"`
}

type publishEntry struct {
	Action string `json:"action"`
	Method string `json:"method"`
}

func (ch *Channel) handshakeMessage(kind string, entries []publishEntry) *Message {
	params, _ := jsoncodec.Marshal(handshake{Type: kind, Publish: entries})
	return &Message{Method: scopedMethod(ch.scope, methodReady), Params: params}
}

func (ch *Channel) announceMessage(e publishEntry) *Message {
	method := methodBind
	if e.Action == publishUnbind {
		method = methodUnbind
	}
	params, _ := jsoncodec.Marshal(e.Method)
	return &Message{Method: scopedMethod(ch.scope, method), Params: params}
}

// announceLocked records a bind or unbind of method for the peer. It returns
// the message to post right away, or nil when there is nothing to post yet.
// Must hold ch.mu.
func (ch *Channel) announceLocked(action, method string, skip bool) *Message {
	if !ch.cfg.Publish || skip {
		return nil
	}
	if action == publishBind {
		ch.published[method] = true
	} else {
		delete(ch.published, method)
	}
	e := publishEntry{Action: action, Method: method}
	if ch.ready {
		return ch.announceMessage(e)
	}
	ch.publish = append(ch.publish, e)
	return nil
}

// advertisedLocked lists every published method. Must hold ch.mu.
func (ch *Channel) advertisedLocked() []publishEntry {
	methods := make([]string, 0, len(ch.published))
	for method := range ch.published {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	entries := make([]publishEntry, 0, len(methods))
	for _, method := range methods {
		entries = append(entries, publishEntry{Action: publishBind, Method: method})
	}
	return entries
}

// sendHandshake starts the handshake. It does nothing if the channel was
// destroyed after scheduling it.
func (ch *Channel) sendHandshake(id string) {
	ch.mu.Lock()
	if ch.destroyed || ch.id != id {
		ch.mu.Unlock()
		return
	}
	entries := append([]publishEntry(nil), ch.publish...)
	ch.announced = len(entries)
	ch.mu.Unlock()

	ch.debugf("sending ping")
	if err := ch.send(ch.handshakeMessage(handshakePing, entries)); err != nil {
		ch.debugf("failed to send ping: %s", err)
	}
}

// onReady handles the __ready notification.
func (ch *Channel) onReady(tx *Transaction, params json.RawMessage) (any, error) {
	var hs handshake
	if err := jsoncodec.Unmarshal(params, &hs); err != nil {
		return nil, err
	}

	ch.mu.Lock()
	if ch.destroyed {
		ch.mu.Unlock()
		return nil, stateError("ready", ErrDestroyed)
	}
	if ch.ready && !ch.cfg.Reconnect {
		ch.mu.Unlock()
		return nil, stateError("ready", ErrUnexpectedReady)
	}
	if ch.ready && hs.Type == handshakePong {
		// Both sides pinged. The pong answers a ping we already counted as
		// the handshake.
		ch.mu.Unlock()
		ch.debugf("ignoring pong while ready")
		ch.applyPublish(hs.Publish)
		return nil, nil
	}
	again := ch.ready
	ch.ready = true
	ch.flushing = true

	var reply *Message
	var late []publishEntry
	switch {
	case hs.Type == handshakePing && again:
		reply = ch.handshakeMessage(handshakePong, ch.advertisedLocked())
	case hs.Type == handshakePing:
		reply = ch.handshakeMessage(handshakePong, ch.publish)
	case ch.announced < len(ch.publish):
		// Bound after our ping went out.
		late = ch.publish[ch.announced:]
	}
	ch.publish = nil
	ch.announced = 0
	if !ch.cfg.Reconnect {
		delete(ch.handlers, methodReady)
	}
	ch.mu.Unlock()

	incr(MetricHandshakeCount, LabelScope.M(ch.scope))
	ch.debugf("ready (got %s)", hs.Type)
	if reply != nil {
		if err := ch.send(reply); err != nil {
			ch.debugf("failed to send pong: %s", err)
		}
	}
	for _, e := range late {
		if err := ch.send(ch.announceMessage(e)); err != nil {
			ch.debugf("failed to announce %q: %s", e.Method, err)
		}
	}
	ch.applyPublish(hs.Publish)
	ch.flush()
	if ch.cfg.OnReady != nil {
		ch.cfg.OnReady(ch)
	}
	return nil, nil
}

// flush sends the queued messages in order. Posts made while it runs keep
// queueing behind them until the queue is empty.
func (ch *Channel) flush() {
	for {
		ch.mu.Lock()
		queue := ch.queue
		ch.queue = nil
		if len(queue) == 0 || ch.destroyed {
			ch.flushing = false
			ch.mu.Unlock()
			return
		}
		ch.mu.Unlock()
		for _, msg := range queue {
			if err := ch.send(msg); err != nil {
				ch.debugf("failed to flush %s: %s", msg, err)
			}
		}
	}
}

func (ch *Channel) applyPublish(entries []publishEntry) {
	for _, e := range entries {
		switch e.Action {
		case publishBind:
			ch.addStub(e.Method)
		case publishUnbind:
			ch.removeStub(e.Method)
		}
	}
}

// onBind handles a __bind notification from the peer.
func (ch *Channel) onBind(tx *Transaction, params json.RawMessage) (any, error) {
	var method string
	if err := jsoncodec.Unmarshal(params, &method); err != nil {
		return nil, err
	}
	ch.addStub(method)
	return nil, nil
}

// onUnbind handles an __unbind notification from the peer.
func (ch *Channel) onUnbind(tx *Transaction, params json.RawMessage) (any, error) {
	var method string
	if err := jsoncodec.Unmarshal(params, &method); err != nil {
		return nil, err
	}
	ch.removeStub(method)
	return nil, nil
}
