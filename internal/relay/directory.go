package relay

import (
	"slices"
	"sort"
	"sync"
)

// DefaultCapacity is the listener bound used when none is configured.
const DefaultCapacity = 3

type JoinOutcome int

const (
	Admitted JoinOutcome = iota
	RejectedHostExists
	RejectedRoomFull
)

func (o JoinOutcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case RejectedHostExists:
		return ReasonHostExists
	case RejectedRoomFull:
		return ReasonRoomFull
	}
	return "unknown"
}

// HostJoin is the result of JoinAsHost. Listeners are the members that
// were waiting for a host.
type HostJoin struct {
	Outcome    JoinOutcome
	Created    bool
	Generation uint64
	Listeners  []string
}

// ListenerJoin is the result of JoinAsListener. HostID is empty when the
// listener has to wait; State holds the host's last broadcasts to replay.
type ListenerJoin struct {
	Outcome    JoinOutcome
	Created    bool
	Generation uint64
	HostID     string
	State      []Message
	Listeners  int
}

// Departure is the result of Leave. HostID and Listeners describe the
// room after the departure.
type Departure struct {
	Found      bool
	WasHost    bool
	Generation uint64
	HostID     string
	Listeners  []string
	Deleted    bool
}

// Members is a read-only snapshot of a room.
type Members struct {
	HostID    string
	Listeners []string
}

// RoomInfo is the introspection view of a room.
type RoomInfo struct {
	ID        string   `json:"id"`
	HostID    string   `json:"host,omitempty"`
	Listeners []string `json:"listeners"`
	Capacity  int      `json:"capacity"`
	HasState  bool     `json:"has_state"`
}

type DirectoryStats struct {
	Rooms     int `json:"rooms"`
	Hosts     int `json:"hosts"`
	Listeners int `json:"listeners"`
}

// stateOrder is the replay order of retained broadcast state.
var stateOrder = []MessageType{TypeMetadata, TypeTrackUpdate, TypeControl}

type room struct {
	id        string
	// gen tells apart successive rooms that reuse the same id.
	gen       uint64
	mu        sync.Mutex
	hostID    string
	listeners []string
	// lastState keeps the latest host broadcast per type.
	lastState map[MessageType]Message
	// removed is set once the room left the directory map; a joiner that
	// raced with the removal must look the room up again.
	removed bool
}

func (rm *room) empty() bool { return rm.hostID == "" && len(rm.listeners) == 0 }

func (rm *room) state() []Message {
	var out []Message
	for _, typ := range stateOrder {
		if msg, ok := rm.lastState[typ]; ok {
			out = append(out, msg)
		}
	}
	return out
}

func (rm *room) members() Members {
	return Members{HostID: rm.hostID, Listeners: slices.Clone(rm.listeners)}
}

// Directory keeps room membership. The map lock only guards the map;
// every room carries its own lock so unrelated rooms never contend.
type Directory struct {
	capacity int
	live     func(connID string) bool

	mu    sync.Mutex
	rooms map[string]*room
	gen   uint64
}

// NewDirectory builds a directory with the given listener capacity. live
// reports whether a connection id is still registered; it lets a stale
// host slot be taken over.
func NewDirectory(capacity int, live func(connID string) bool) *Directory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if live == nil {
		live = func(string) bool { return true }
	}
	return &Directory{capacity: capacity, live: live, rooms: make(map[string]*room)}
}

func (d *Directory) Capacity() int { return d.capacity }

// Len is the number of rooms.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rooms)
}

// acquire returns the room locked. With create set a missing room is
// added to the map.
func (d *Directory) acquire(roomID string, create bool) (*room, bool) {
	for {
		d.mu.Lock()
		rm, ok := d.rooms[roomID]
		created := false
		if !ok {
			if !create {
				d.mu.Unlock()
				return nil, false
			}
			d.gen++
			rm = &room{id: roomID, gen: d.gen}
			d.rooms[roomID] = rm
			created = true
		}
		d.mu.Unlock()

		rm.mu.Lock()
		if rm.removed {
			rm.mu.Unlock()
			continue
		}
		return rm, created
	}
}

// release unlocks rm and drops it from the map if it is empty.
func (d *Directory) release(rm *room) (deleted bool) {
	if rm.empty() {
		rm.removed = true
		rm.lastState = nil
		d.mu.Lock()
		if d.rooms[rm.id] == rm {
			delete(d.rooms, rm.id)
		}
		d.mu.Unlock()
		deleted = true
	}
	rm.mu.Unlock()
	return deleted
}

// JoinAsHost claims the host slot of roomID, creating the room if needed.
func (d *Directory) JoinAsHost(roomID, connID string) HostJoin {
	rm, created := d.acquire(roomID, true)

	res := HostJoin{Generation: rm.gen}
	if rm.hostID != "" && rm.hostID != connID && d.live(rm.hostID) {
		res.Outcome = RejectedHostExists
	} else {
		if rm.hostID != connID {
			// a stale host's retained state must not reach the new host's listeners
			rm.lastState = nil
		}
		rm.hostID = connID
		res.Outcome = Admitted
		res.Listeners = slices.Clone(rm.listeners)
	}

	deleted := d.release(rm)
	res.Created = created && !deleted
	return res
}

// JoinAsListener adds connID to the listener set of roomID. A missing host
// is not a rejection reason.
func (d *Directory) JoinAsListener(roomID, connID string) ListenerJoin {
	rm, created := d.acquire(roomID, true)

	res := ListenerJoin{Generation: rm.gen}
	switch {
	case slices.Contains(rm.listeners, connID):
		res.Outcome = Admitted
	case len(rm.listeners) >= d.capacity:
		res.Outcome = RejectedRoomFull
	default:
		rm.listeners = append(rm.listeners, connID)
		res.Outcome = Admitted
	}
	if res.Outcome == Admitted {
		res.HostID = rm.hostID
		if rm.hostID != "" {
			res.State = rm.state()
		}
	}
	res.Listeners = len(rm.listeners)

	deleted := d.release(rm)
	res.Created = created && !deleted
	return res
}

// Leave removes connID from whichever slot it holds in roomID.
func (d *Directory) Leave(roomID, connID string) Departure {
	rm, ok := d.acquire(roomID, false)
	if !ok {
		return Departure{}
	}

	dep := Departure{Generation: rm.gen}
	if rm.hostID == connID {
		rm.hostID = ""
		rm.lastState = nil
		dep.Found, dep.WasHost = true, true
	} else if i := slices.Index(rm.listeners, connID); i >= 0 {
		rm.listeners = slices.Delete(rm.listeners, i, i+1)
		dep.Found = true
	}
	dep.HostID = rm.hostID
	dep.Listeners = slices.Clone(rm.listeners)

	dep.Deleted = d.release(rm)
	return dep
}

// MembersOf returns a snapshot of roomID.
func (d *Directory) MembersOf(roomID string) (Members, bool) {
	rm, ok := d.acquire(roomID, false)
	if !ok {
		return Members{}, false
	}
	defer rm.mu.Unlock()
	return rm.members(), true
}

func (d *Directory) IsMember(roomID, connID string) bool {
	m, ok := d.MembersOf(roomID)
	if !ok {
		return false
	}
	return m.HostID == connID || slices.Contains(m.Listeners, connID)
}

func (d *Directory) IsListener(roomID, connID string) bool {
	m, ok := d.MembersOf(roomID)
	return ok && slices.Contains(m.Listeners, connID)
}

func (d *Directory) HostOf(roomID string) string {
	m, _ := d.MembersOf(roomID)
	return m.HostID
}

// RecordBroadcast retains msg as the room's latest state of its type if
// hostID currently holds the host slot.
func (d *Directory) RecordBroadcast(roomID, hostID string, msg Message) bool {
	rm, ok := d.acquire(roomID, false)
	if !ok {
		return false
	}
	defer rm.mu.Unlock()

	if rm.hostID == "" || rm.hostID != hostID {
		return false
	}
	if rm.lastState == nil {
		rm.lastState = make(map[MessageType]Message, len(stateOrder))
	}
	rm.lastState[msg.Type] = msg
	return true
}

func (d *Directory) snapshotRooms() []*room {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*room, 0, len(d.rooms))
	for _, rm := range d.rooms {
		out = append(out, rm)
	}
	return out
}

func (d *Directory) Stats() DirectoryStats {
	var st DirectoryStats
	for _, rm := range d.snapshotRooms() {
		rm.mu.Lock()
		if !rm.removed {
			st.Rooms++
			if rm.hostID != "" {
				st.Hosts++
			}
			st.Listeners += len(rm.listeners)
		}
		rm.mu.Unlock()
	}
	return st
}

func (d *Directory) info(rm *room) RoomInfo {
	return RoomInfo{
		ID:        rm.id,
		HostID:    rm.hostID,
		Listeners: append([]string{}, rm.listeners...),
		Capacity:  d.capacity,
		HasState:  len(rm.lastState) > 0,
	}
}

// Rooms lists every room sorted by id.
func (d *Directory) Rooms() []RoomInfo {
	out := make([]RoomInfo, 0)
	for _, rm := range d.snapshotRooms() {
		rm.mu.Lock()
		if !rm.removed {
			out = append(out, d.info(rm))
		}
		rm.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Directory) Room(roomID string) (RoomInfo, bool) {
	rm, ok := d.acquire(roomID, false)
	if !ok {
		return RoomInfo{}, false
	}
	defer rm.mu.Unlock()
	return d.info(rm), true
}
