package bridge

import (
	"encoding/json"
	"testing"

	"github.com/wisp-chat/wisp/internal/client/model"
	"github.com/wisp-chat/wisp/internal/client/presence"
)

type fakeEvents struct {
	handlers map[string]presence.Handler
	onCalls  int
	offCalls int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{handlers: make(map[string]presence.Handler)}
}

func (f *fakeEvents) On(event string, h presence.Handler) {
	f.handlers[event] = h
	f.onCalls++
}

func (f *fakeEvents) Off(event string) {
	delete(f.handlers, event)
	f.offCalls++
}

func (f *fakeEvents) push(t *testing.T, msg model.Message) {
	t.Helper()
	h, ok := f.handlers["new_message"]
	if !ok {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{"type": "new_message", "message": msg})
	if err != nil {
		t.Fatalf("marshal push: %v", err)
	}
	h(payload)
}

type fakeSink struct {
	received []model.Message
}

func (f *fakeSink) ApplyInbound(m model.Message) {
	f.received = append(f.received, m)
}

func TestSubscribeDeliversToSink(t *testing.T) {
	events := newFakeEvents()
	sink := &fakeSink{}
	b := New(events, sink)

	b.Subscribe()
	events.push(t, model.Message{ID: "m1", SenderID: "u2", Text: "hi"})

	if len(sink.received) != 1 {
		t.Fatalf("expected 1 delivered message, got %d", len(sink.received))
	}
	if sink.received[0].ID != "m1" {
		t.Errorf("expected message m1, got %q", sink.received[0].ID)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	events := newFakeEvents()
	b := New(events, &fakeSink{})

	b.Subscribe()
	b.Subscribe()
	b.Subscribe()

	if events.onCalls != 1 {
		t.Errorf("repeated Subscribe must register once, got %d registrations", events.onCalls)
	}

	b.Unsubscribe()
	b.Subscribe()
	if events.onCalls != 2 {
		t.Errorf("Subscribe after Unsubscribe must register again, got %d registrations", events.onCalls)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	events := newFakeEvents()
	sink := &fakeSink{}
	b := New(events, sink)

	b.Subscribe()
	b.Unsubscribe()

	for i := 0; i < 5; i++ {
		events.push(t, model.Message{ID: "m1", SenderID: "u2", Text: "hi"})
	}
	if len(sink.received) != 0 {
		t.Errorf("no pushed event may reach the sink after Unsubscribe, got %d", len(sink.received))
	}

	// Safe to call again with nothing registered.
	b.Unsubscribe()
	if events.offCalls != 1 {
		t.Errorf("redundant Unsubscribe must not deregister twice, got %d", events.offCalls)
	}
}

func TestMalformedPayloadIgnored(t *testing.T) {
	events := newFakeEvents()
	sink := &fakeSink{}
	b := New(events, sink)
	b.Subscribe()

	events.handlers["new_message"]([]byte("{not json"))

	if len(sink.received) != 0 {
		t.Error("malformed payloads must not reach the sink")
	}
}
