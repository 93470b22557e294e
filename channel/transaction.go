package channel

import (
	"encoding/json"

	"github.com/vipnode/framechan/internal/jsoncodec"
)

// Transaction is handed to a handler for one inbound request. It stays open
// until it is completed or failed, exactly once.
//
// Unless DelayReturn(true) is called, the request is completed with the
// handler's return value as soon as the handler returns.
type Transaction struct {
	ch        *Channel
	id        uint64
	origin    string
	params    json.RawMessage
	callbacks []string

	// Guarded by ch.mu
	completed bool
	delayed   bool
}

// ID returns the transaction id, or 0 for a notification.
func (tx *Transaction) ID() uint64 {
	return tx.id
}

// Origin returns the origin of the context that sent the request.
func (tx *Transaction) Origin() string {
	return tx.origin
}

// IsNotification reports whether there is nobody to reply to.
func (tx *Transaction) IsNotification() bool {
	return tx.id == 0
}

// Callbacks returns the callback paths the caller declared.
func (tx *Transaction) Callbacks() []string {
	return append([]string(nil), tx.callbacks...)
}

// DelayReturn controls whether the handler's return value completes the
// transaction. When delayed, the handler must call Complete or Error later.
func (tx *Transaction) DelayReturn(delay bool) {
	tx.ch.mu.Lock()
	defer tx.ch.mu.Unlock()
	tx.delayed = delay
}

func (tx *Transaction) isDelayed() bool {
	tx.ch.mu.Lock()
	defer tx.ch.mu.Unlock()
	return tx.delayed
}

// Open reports whether the transaction can still be completed.
func (tx *Transaction) Open() bool {
	tx.ch.mu.Lock()
	defer tx.ch.mu.Unlock()
	return tx.id != 0 && !tx.completed && tx.ch.inbound[tx.id] == tx
}

func (tx *Transaction) hasCallback(name string) bool {
	for _, cb := range tx.callbacks {
		if cb == name {
			return true
		}
	}
	return false
}

// Invoke calls the caller's callback at path name with value.
func (tx *Transaction) Invoke(name string, value any) error {
	const op = "invoke"
	if tx.IsNotification() {
		return stateError(op, ErrNotificationReply)
	}
	if !tx.Open() {
		return stateError(op, ErrTransactionClosed)
	}
	if !tx.hasCallback(name) {
		return stateError(op+" "+name, ErrUnknownCallback)
	}
	params, err := marshalParams(value)
	if err != nil {
		return err
	}
	return tx.ch.post(&Message{ID: tx.id, Callback: name, Params: params}, false)
}

// Callback returns a function that invokes the caller's callback at path name.
func (tx *Transaction) Callback(name string) func(value any) error {
	return func(value any) error {
		return tx.Invoke(name, value)
	}
}

// ParamTree decodes the params into a generic tree and places a callback
// function, as returned by Callback, at every path the caller declared.
func (tx *Transaction) ParamTree() (map[string]any, error) {
	tree := map[string]any{}
	if len(tx.params) > 0 && string(tx.params) != "null" {
		if err := jsoncodec.Unmarshal(tx.params, &tree); err != nil {
			return nil, err
		}
	}
	injectCallbacks(tree, tx.callbacks, func(path string) any {
		return tx.Callback(path)
	})
	return tree, nil
}

// finish marks the transaction completed and drops it from the inbound table.
func (tx *Transaction) finish(op string) error {
	if tx.IsNotification() {
		return stateError(op, ErrNotificationReply)
	}
	tx.ch.mu.Lock()
	defer tx.ch.mu.Unlock()
	if tx.completed || tx.ch.inbound[tx.id] != tx {
		return stateError(op, ErrTransactionClosed)
	}
	tx.completed = true
	delete(tx.ch.inbound, tx.id)
	return nil
}

// Complete resolves the request with value as its result.
func (tx *Transaction) Complete(value any) error {
	if err := tx.finish("complete"); err != nil {
		return err
	}
	result, err := marshalParams(value)
	if err != nil {
		return tx.ch.post(&Message{ID: tx.id, Error: ErrCodeEncoding, Message: err.Error()}, false)
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	return tx.ch.post(&Message{ID: tx.id, Result: result}, false)
}

// Error fails the request with a wire error.
func (tx *Transaction) Error(code, message string) error {
	if err := tx.finish("error"); err != nil {
		return err
	}
	return tx.ch.post(&Message{ID: tx.id, Error: nonEmptyCode(code), Message: message}, false)
}
