// Package bridge translates pushed "new_message" events into conversation
// store mutations. It borrows the presence manager's event registry and never
// owns the connection lifecycle.
package bridge

import (
	"encoding/json"
	"sync"

	"github.com/wisp-chat/wisp/internal/client/debug"
	"github.com/wisp-chat/wisp/internal/client/model"
	"github.com/wisp-chat/wisp/internal/client/presence"
)

// Events is the registration surface the bridge needs; *presence.Manager
// satisfies it.
type Events interface {
	On(event string, h presence.Handler)
	Off(event string)
}

// Sink receives accepted inbound messages; *state.Store satisfies it. The
// sink is responsible for conversation scoping and duplicate suppression.
type Sink interface {
	ApplyInbound(m model.Message)
}

type Bridge struct {
	mu         sync.Mutex
	events     Events
	sink       Sink
	subscribed bool
}

func New(events Events, sink Sink) *Bridge {
	return &Bridge{events: events, sink: sink}
}

// Subscribe registers the inbound handler. Subscribing twice is a no-op
// until an Unsubscribe occurs, so callers cannot accumulate duplicate
// handlers across view changes.
func (b *Bridge) Subscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribed {
		return
	}
	b.events.On("new_message", b.handle)
	b.subscribed = true
}

// Unsubscribe deregisters the handler. Safe when not subscribed. After it
// returns, pushed events no longer reach the store.
func (b *Bridge) Unsubscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.subscribed {
		return
	}
	b.events.Off("new_message")
	b.subscribed = false
}

func (b *Bridge) Subscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribed
}

// handle runs on the connection's read loop. It does a pure store append
// and never issues network calls.
func (b *Bridge) handle(payload json.RawMessage) {
	var env struct {
		Message model.Message `json:"message"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		debug.Log("bridge: bad new_message payload: %v", err)
		return
	}
	b.sink.ApplyInbound(env.Message)
}
