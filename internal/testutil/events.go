package testutil

import (
	"context"
	"sync"

	"github.com/LougLynx/RIG-SYSTEM/internal/events"
	"github.com/LougLynx/RIG-SYSTEM/internal/infra"
)

// Recorder is an events.Sink that keeps everything it is given.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
	Err    error
}

func (r *Recorder) Emit(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []events.Type {
	var out []events.Type
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t events.Type) int {
	n := 0
	for _, e := range r.Events() {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Sent is one invocation seen by FakeChannel.
type Sent struct {
	Target string
	Args   []any
}

// FakeChannel is a realtime channel that records sends.
type FakeChannel struct {
	mu         sync.Mutex
	sent       []Sent
	ConnectErr error
	SendErr    error
	state      infra.ChannelState
	Closed     bool
}

func (c *FakeChannel) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.state = infra.ChannelConnected
	return nil
}

func (c *FakeChannel) Send(_ context.Context, target string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, Sent{Target: target, Args: args})
	return nil
}

func (c *FakeChannel) State() infra.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *FakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	c.state = infra.ChannelDisconnected
	return nil
}

func (c *FakeChannel) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}
