package main

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vipnode/framechan/channel"
	"github.com/vipnode/framechan/internal/jsoncodec"
)

var errBadParams = errors.New("bad params")

// demo holds the methods served by `framechan serve`.
type demo struct {
	ch *channel.Channel
	// tick is the interval between countdown callbacks.
	tick time.Duration
}

func (d *demo) Register() error {
	methods := map[string]channel.HandlerFunc{
		"echo":      d.Echo,
		"add":       d.Add,
		"countdown": d.Countdown,
		"fail":      d.Fail,
		"methods":   d.Methods,
		"whoami":    d.WhoAmI,
	}
	for name, h := range methods {
		if err := d.ch.Bind(name, h); err != nil {
			return err
		}
	}
	return nil
}

// Echo returns its params.
func (d *demo) Echo(tx *channel.Transaction, params json.RawMessage) (any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	return params, nil
}

// Add sums a list of numbers.
func (d *demo) Add(tx *channel.Transaction, params json.RawMessage) (any, error) {
	var nums []float64
	if err := jsoncodec.Unmarshal(params, &nums); err != nil {
		return nil, channel.NewError("bad_params", "add takes a list of numbers")
	}
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return sum, nil
}

type countdownParams struct {
	From int `json:"from"`
}

// Countdown calls onTick with every number from params.from down to 1, then
// completes with "liftoff".
func (d *demo) Countdown(tx *channel.Transaction, params json.RawMessage) (any, error) {
	var p countdownParams
	if err := jsoncodec.Unmarshal(params, &p); err != nil || p.From < 0 {
		return nil, errBadParams
	}
	tick := tx.Callback("onTick")
	hasTick := false
	for _, path := range tx.Callbacks() {
		hasTick = hasTick || path == "onTick"
	}

	tx.DelayReturn(true)
	go func() {
		for i := p.From; i > 0; i-- {
			if hasTick {
				if err := tick(i); err != nil {
					logger.Debugf("Countdown aborted: %s", err)
					return
				}
			}
			time.Sleep(d.tick)
		}
		if err := tx.Complete("liftoff"); err != nil {
			logger.Debugf("Countdown not completed: %s", err)
		}
	}()
	return nil, nil
}

type failParams struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Fail fails with the given code and message.
func (d *demo) Fail(tx *channel.Transaction, params json.RawMessage) (any, error) {
	var p failParams
	if len(params) > 0 {
		if err := jsoncodec.Unmarshal(params, &p); err != nil {
			return nil, errBadParams
		}
	}
	if p.Code == "" {
		panic(p.Message)
	}
	return nil, channel.NewError(p.Code, p.Message)
}

// Methods lists the methods served on this channel.
func (d *demo) Methods(tx *channel.Transaction, params json.RawMessage) (any, error) {
	return d.ch.Methods(), nil
}

// WhoAmI returns the origin of the caller.
func (d *demo) WhoAmI(tx *channel.Transaction, params json.RawMessage) (any, error) {
	return tx.Origin(), nil
}
