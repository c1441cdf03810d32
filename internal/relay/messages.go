package relay

import "encoding/json"

// MessageType is the `type` tag carried by every frame.
type MessageType string

// Client → server.
const (
	TypeRegister         MessageType = "register"
	TypeJoinRoom         MessageType = "join-room"
	TypeOffer            MessageType = "offer"
	TypeAnswer           MessageType = "answer"
	TypeCandidate        MessageType = "candidate"
	TypeMetadata         MessageType = "metadata"
	TypeControl          MessageType = "control"
	TypeTrackUpdate      MessageType = "track-update"
	TypeTrackSync        MessageType = "track-sync"
	TypeRequestTrackSync MessageType = "request-track-sync"
	TypeLeave            MessageType = "leave"
	TypePong             MessageType = "pong"
)

// Server → client.
const (
	TypeRegistered     MessageType = "registered"
	TypeError          MessageType = "error"
	TypeWaiting        MessageType = "waiting"
	TypeListenerJoined MessageType = "listener-joined"
	TypePeerLeft       MessageType = "peer-left"
	TypeHostLeft       MessageType = "host-left"
	TypeResync         MessageType = "resync"
	TypePing           MessageType = "ping"
)

// Role of a connection inside its room.
type Role string

const (
	RoleUnassigned Role = ""
	RoleHost       Role = "host"
	RoleListener   Role = "listener"
)

// parseRole maps the wire role to a Role. "broadcaster" is an alias of host.
func parseRole(s string) (Role, bool) {
	switch s {
	case "host", "broadcaster":
		return RoleHost, true
	case "listener":
		return RoleListener, true
	}
	return RoleUnassigned, false
}

// Message is the outbound frame. Fields are omitted when empty so each
// type only carries what it needs.
type Message struct {
	Type    MessageType     `json:"type"`
	Role    Role            `json:"role,omitempty"`
	Room    string          `json:"room,omitempty"`
	ID      string          `json:"id,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Message string          `json:"message,omitempty"`
}

// frame is only decoded for its tag; the typed request is decoded from
// the same bytes by the handler.
type frame struct {
	Type MessageType `json:"type"`
}

// ──────────────────────────── inbound requests ────────────────────────────

// MaxNameLength bounds the display name kept for a connection, in runes.
// Longer names are cut rather than rejected.
const MaxNameLength = 64

// RegisterRequest is the body of register / join-room.
type RegisterRequest struct {
	Role string `json:"role" validate:"required,oneof=host broadcaster listener"`
	Room string `json:"room" validate:"required,max=128"`
	Name string `json:"name"`
}

// SignalRequest carries offer / answer / candidate.
type SignalRequest struct {
	Target  string          `json:"target" validate:"max=64"`
	Payload json.RawMessage `json:"payload"`
}

// BroadcastRequest carries metadata / control / track-update.
type BroadcastRequest struct {
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// SyncRequest carries track-sync and request-track-sync.
type SyncRequest struct {
	Target  string          `json:"target" validate:"max=64"`
	Payload json.RawMessage `json:"payload"`
}

// Empty is used by types without a body (leave, pong).
type Empty struct{}
