package ws

import (
	"encoding/json"

	"github.com/vipnode/framechan/channel"
)

// Envelope wraps one posted message on the wire. Origin is the origin of the
// sender and Target the origin the message was posted to.
type Envelope struct {
	Origin string          `json:"origin"`
	Target string          `json:"target,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// Accepts reports whether a context at origin may receive the message.
func (e *Envelope) Accepts(origin string) bool {
	return e.Target == "" || e.Target == channel.AnyOrigin || origin == "" || e.Target == origin
}
