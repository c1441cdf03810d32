package relay

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateConnection = errors.New("connection already registered")

	// Frames that are dropped without a reply.
	ErrMalformed     = errors.New("malformed frame")
	ErrNotRegistered = errors.New("sender not registered")
	ErrNotHost       = errors.New("sender is not the room host")
	ErrRoutingMiss   = errors.New("target not reachable from sender's room")
)

// Admission rejection reasons, sent to the client in the error frame.
const (
	ReasonHostExists        = "host-exists"
	ReasonRoomFull          = "room-full"
	ReasonMissingRoom       = "missing-room"
	ReasonInvalidRoom       = "invalid-room"
	ReasonInvalidRole       = "invalid-role"
	ReasonAlreadyRegistered = "already-registered"
)

var reasonText = map[string]string{
	ReasonHostExists:        "room already has a host",
	ReasonRoomFull:          "room is full",
	ReasonMissingRoom:       "room id is required",
	ReasonInvalidRoom:       "room id is too long",
	ReasonInvalidRole:       "role must be host, broadcaster or listener",
	ReasonAlreadyRegistered: "connection is already registered, leave first",
}

// AdmissionError is a register rejection. The offending client is told,
// nobody else is affected.
type AdmissionError struct {
	Reason string
	Room   string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission rejected for room %q: %s", e.Room, e.Reason)
}

func (e *AdmissionError) frame() Message {
	return Message{Type: TypeError, Room: e.Room, Reason: e.Reason, Message: reasonText[e.Reason]}
}
