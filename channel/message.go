package channel

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vipnode/framechan/internal/jsoncodec"
)

// ScopeSeparator joins a scope and a method name on the wire.
const ScopeSeparator = "::"

// DefaultScope is the scope of channels that were not given one. Methods of
// the default scope travel unscoped.
const DefaultScope = "__default__"

// CallbackSeparator joins the keys of a callback path.
const CallbackSeparator = "/"

// Reserved method names.
const (
	methodReady  = "__ready"
	methodBind   = "__bind"
	methodUnbind = "__unbind"
)

func isReserved(method string) bool {
	switch method {
	case methodReady, methodBind, methodUnbind:
		return true
	}
	return false
}

// Kind classifies a Message by the fields it carries.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindCallback
	KindError
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindCallback:
		return "callback"
	case KindError:
		return "error"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	}
	return "invalid"
}

// Message is a single flat wire message. Which fields are set determines its
// Kind. An ID of 0 means the message has no id.
type Message struct {
	ID        uint64          `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Callbacks []string        `json:"callbacks,omitempty"`
	Callback  string          `json:"callback,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Kind returns the message classification.
func (m *Message) Kind() Kind {
	switch {
	case m.ID != 0 && m.Method != "":
		return KindRequest
	case m.ID != 0 && m.Callback != "":
		return KindCallback
	case m.ID != 0 && m.Error != "":
		return KindError
	case m.ID != 0:
		return KindResponse
	case m.Method != "":
		return KindNotification
	}
	return KindInvalid
}

func (m *Message) String() string {
	return fmt.Sprintf("%s(id=%d method=%q)", m.Kind(), m.ID, m.Method)
}

// UnmarshalResult decodes the Result of a Response into result.
func (m *Message) UnmarshalResult(result any) error {
	if result == nil || len(m.Result) == 0 || string(m.Result) == "null" {
		return nil
	}
	return jsoncodec.Unmarshal(m.Result, result)
}

func encodeMessage(m *Message) ([]byte, error) {
	return jsoncodec.Marshal(m)
}

// decodeMessage parses one wire message. Anything that is not a JSON object
// is an error.
func decodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := jsoncodec.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// scopedMethod returns the wire name of method within scope.
func scopedMethod(scope, method string) string {
	if scope == DefaultScope {
		return method
	}
	return scope + ScopeSeparator + method
}

// splitMethod splits a wire method name into scope and method. At most one
// separator is allowed.
func splitMethod(wire string) (scope string, method string, ok bool) {
	parts := strings.Split(wire, ScopeSeparator)
	switch len(parts) {
	case 1:
		return DefaultScope, parts[0], parts[0] != ""
	case 2:
		return parts[0], parts[1], parts[0] != "" && parts[1] != ""
	}
	return "", "", false
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return jsoncodec.Marshal(v)
}
