package channel

import (
	"errors"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/vipnode/framechan/internal/jsoncodec"
)

// Wire error codes produced by this package.
const (
	ErrCodeMethodNotFound = "method_not_found"
	ErrCodeRuntime        = "runtime_error"
	ErrCodeTimeout        = "timeout_error"
	ErrCodeEncoding       = "encoding_error"
)

var (
	ErrAlreadyBound      = errors.New("channel: method already bound")
	ErrReservedMethod    = errors.New("channel: method name is reserved")
	ErrTransactionClosed = errors.New("channel: transaction is not open")
	ErrUnknownCallback   = errors.New("channel: callback was not declared by the caller")
	ErrNotificationReply = errors.New("channel: notifications cannot be replied to")
	ErrUnexpectedReady   = errors.New("channel: received ready message while in ready state")
	ErrDestroyed         = errors.New("channel: channel was destroyed")

	ErrMissingMethod   = errors.New("channel: method is required")
	ErrMissingSuccess  = errors.New("channel: success callback is required")
	ErrRecursiveParams = errors.New("channel: params contain a recursive structure")
)

// Error is a wire-level error. Handlers return it to choose the code and
// message of the ErrorResponse, and callers receive it from CallContext.
type Error struct {
	Code    string
	Message string
}

// NewError returns an *Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (err *Error) Error() string {
	if err.Message == "" {
		return err.Code
	}
	return fmt.Sprintf("%s: %s", err.Code, err.Message)
}

func (err *Error) ErrorCode() string {
	return err.Code
}

// ConfigError is returned when a Channel is built from an invalid Config.
type ConfigError struct {
	Field  string
	Reason string
}

func (err *ConfigError) Error() string {
	return fmt.Sprintf("channel: invalid %s: %s", err.Field, err.Reason)
}

// ConflictError is returned when a Channel would share a remote endpoint and
// scope with an existing Channel whose origin overlaps.
type ConflictError struct {
	Origin string
	Scope  string
}

func (err *ConflictError) Error() string {
	return fmt.Sprintf("channel: a channel is already bound to the same window which overlaps with origin %q and has scope %q", err.Origin, err.Scope)
}

// ProtocolStateError indicates a programming error: the operation is not
// valid in the current state of the channel or transaction.
type ProtocolStateError struct {
	Op  string
	Err error
}

func (err *ProtocolStateError) Error() string {
	return fmt.Sprintf("%s: %s", err.Op, err.Err)
}

func (err *ProtocolStateError) Unwrap() error {
	return err.Err
}

func stateError(op string, err error) error {
	return &ProtocolStateError{Op: op, Err: err}
}

// NormalizeError converts whatever a handler failed with (a returned error or
// a recovered panic value) into a wire error code and message.
//
//   - *Error keeps its code and message.
//   - A string becomes (runtime_error, string).
//   - A two-element pair becomes (pair[0], pair[1]).
//   - A map with "error" and "message" keys is read as such.
//   - Any other error becomes (type name, err.Error()). Unexported types,
//     like the ones returned by errors.New, report "Error".
//   - Anything else becomes runtime_error with a best-effort rendering.
func NormalizeError(v any) (code string, message string) {
	switch t := v.(type) {
	case nil:
		return ErrCodeRuntime, ""
	case *Error:
		return nonEmptyCode(t.Code), t.Message
	case string:
		return ErrCodeRuntime, t
	case [2]string:
		return nonEmptyCode(t[0]), t[1]
	case []string:
		if len(t) == 2 {
			return nonEmptyCode(t[0]), t[1]
		}
	case []any:
		if len(t) == 2 {
			return nonEmptyCode(fmt.Sprint(t[0])), fmt.Sprint(t[1])
		}
	case map[string]any:
		if c, ok := t["error"]; ok {
			return nonEmptyCode(fmt.Sprint(c)), render(t["message"])
		}
	case map[string]string:
		if c, ok := t["error"]; ok {
			return nonEmptyCode(c), t["message"]
		}
	case error:
		var wireErr *Error
		if errors.As(t, &wireErr) {
			return nonEmptyCode(wireErr.Code), wireErr.Message
		}
		return errorTypeName(t), t.Error()
	}

	if b, err := jsoncodec.Marshal(v); err == nil {
		return ErrCodeRuntime, string(b)
	}
	return ErrCodeRuntime, fmt.Sprintf("%v", v)
}

// render is the textual form of a message field that is not a string.
func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	if b, err := jsoncodec.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

func nonEmptyCode(code string) string {
	if code == "" {
		return ErrCodeRuntime
	}
	return code
}

func errorTypeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	r, _ := utf8.DecodeRuneInString(name)
	if name == "" || !unicode.IsUpper(r) {
		return "Error"
	}
	return name
}
