package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mu     sync.Mutex
	sent   []Message
	closed bool
	fail   bool
}

func (m *mockSink) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("send buffer full")
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockSink) messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

func (m *mockSink) ofType(typ MessageType) []Message {
	var out []Message
	for _, msg := range m.messages() {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockSink) types() []MessageType {
	var out []MessageType
	for _, msg := range m.messages() {
		out = append(out, msg.Type)
	}
	return out
}

func (m *mockSink) reset() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

func (m *mockSink) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type recordingEvents struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEvents) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingEvents) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recordingEvents) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// hookedEvents records events and then runs hook on the publishing
// goroutine.
type hookedEvents struct {
	recordingEvents
	hook func(Event)
}

func (h *hookedEvents) Publish(e Event) {
	h.recordingEvents.Publish(e)
	if h.hook != nil {
		h.hook(e)
	}
}

type peer struct {
	id   string
	sink *mockSink
}

func connect(t *testing.T, r *Router) peer {
	t.Helper()
	s := &mockSink{}
	c, err := r.Connect(s)
	require.NoError(t, err)
	return peer{id: c.ID, sink: s}
}

func send(t *testing.T, r *Router, p peer, v any) error {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return r.Handle(context.Background(), p.id, data)
}

func register(t *testing.T, r *Router, p peer, role, room string) error {
	t.Helper()
	return send(t, r, p, map[string]string{"type": "register", "role": role, "room": room})
}
