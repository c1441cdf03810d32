package relay

import "time"

type EventKind string

const (
	EventRoomOpened     EventKind = "room-opened"
	EventRoomClosed     EventKind = "room-closed"
	EventHostJoined     EventKind = "host-joined"
	EventHostLeft       EventKind = "host-left"
	EventListenerJoined EventKind = "listener-joined"
	EventListenerLeft   EventKind = "listener-left"
)

// Event describes a membership change. Listeners is the listener count
// after the change. Generation identifies one lifetime of RoomID: events of
// a closed room can still be in flight when the id is opened again.
type Event struct {
	Kind       EventKind `json:"kind"`
	RoomID     string    `json:"room"`
	Generation uint64    `json:"generation"`
	ConnID     string    `json:"conn,omitempty"`
	Role       Role      `json:"role,omitempty"`
	Listeners  int       `json:"listeners"`
	At         time.Time `json:"at"`
}

// EventSink receives membership events. Publish is called from the
// routing path and must not block.
type EventSink interface {
	Publish(Event)
}

// Sinks fans an event out to several sinks.
type Sinks []EventSink

func (s Sinks) Publish(e Event) {
	for _, sink := range s {
		sink.Publish(e)
	}
}

type nopSink struct{}

func (nopSink) Publish(Event) {}
