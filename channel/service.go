package channel

import (
	"context"
	"encoding/json"
)

// Service represents a remote service that can be called synchronously.
type Service interface {
	CallContext(ctx context.Context, result any, method string, params any) error
}

var _ Service = &Channel{}

type outcome struct {
	result json.RawMessage
	err    error
}

// CallContext sends a request and blocks until it is resolved or ctx is done,
// in which case the request is forgotten. Remote failures are returned as
// *Error. It must not be called from a handler, since handlers run on the
// dispatcher loop that delivers the response.
func (ch *Channel) CallContext(ctx context.Context, result any, method string, params any) error {
	done := make(chan outcome, 1)
	id, err := ch.call(CallOptions{
		Method: method,
		Params: params,
		Success: func(r json.RawMessage) {
			done <- outcome{result: r}
		},
		Error: func(code, message string) {
			done <- outcome{err: NewError(code, message)}
		},
	})
	if err != nil {
		return err
	}

	select {
	case o := <-done:
		if o.err != nil {
			return o.err
		}
		reply := &Message{ID: id, Result: o.result}
		return reply.UnmarshalResult(result)
	case <-ctx.Done():
		ch.evict(id)
		return ctx.Err()
	}
}
