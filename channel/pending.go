package channel

import (
	"encoding/json"
	"time"
)

// outboundCall is the caller side state of one outstanding request.
type outboundCall struct {
	method    string
	success   func(result json.RawMessage)
	fail      func(code, message string)
	callbacks map[string]Callback
	timeout   time.Duration
	timer     *time.Timer
	timestamp time.Time
}

// stop disarms the timeout, if any. Must hold the channel lock or own the
// call exclusively.
func (call *outboundCall) stop() {
	if call.timer != nil {
		call.timer.Stop()
		call.timer = nil
	}
}

func (call *outboundCall) resolve(msg *Message) {
	if msg.Kind() == KindError {
		if call.fail == nil {
			logger.Debugf("Channel: unhandled error response for %q: %s: %s", call.method, msg.Error, msg.Message)
			return
		}
		call.fail(msg.Error, msg.Message)
		return
	}
	call.success(msg.Result)
}
