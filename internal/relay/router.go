package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"syncrelay/internal/metrics"
)

// Options configures a Router. Zero values fall back to defaults.
type Options struct {
	Capacity       int
	PingInterval   time.Duration
	MaxMissedPings int
	Metrics        *metrics.Metrics
	Events         EventSink
}

// internal (untyped) handler signature.
type rawHandler func(ctx context.Context, c *Connection, typ MessageType, raw []byte) error

// Router is the protocol state machine. It owns the registry and the
// directory; nothing else mutates them.
type Router struct {
	registry  *Registry
	directory *Directory
	delivery  *Delivery
	presence  *Presence
	metrics   *metrics.Metrics
	events    EventSink
	validate  *validator.Validate
	now       func() time.Time

	handlers map[MessageType]rawHandler
}

func NewRouter(opts Options) *Router {
	reg := NewRegistry()
	dir := NewDirectory(opts.Capacity, reg.Live)
	del := NewDelivery(reg, dir, opts.Metrics)

	r := &Router{
		registry:  reg,
		directory: dir,
		delivery:  del,
		presence:  newPresence(del, reg, opts.PingInterval, opts.MaxMissedPings),
		metrics:   opts.Metrics,
		events:    opts.Events,
		validate:  validator.New(),
		now:       time.Now,
		handlers:  make(map[MessageType]rawHandler),
	}
	if r.events == nil {
		r.events = nopSink{}
	}
	r.presence.expire = r.Expire
	r.registerHandlers()
	return r
}

// on binds message types to a strongly-typed handler.
func on[Req any](
	r *Router,
	h func(ctx context.Context, c *Connection, typ MessageType, req Req) error,
	types ...MessageType,
) {
	for _, typ := range types {
		if typ == "" {
			panic("relay router: empty message type")
		}
		r.handlers[typ] = func(ctx context.Context, c *Connection, typ MessageType, raw []byte) error {
			var req Req
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			return h(ctx, c, typ, req)
		}
	}
}

func (r *Router) registerHandlers() {
	on(r, r.handleRegister, TypeRegister, TypeJoinRoom)
	on(r, r.handleSignal, TypeOffer, TypeAnswer, TypeCandidate)
	on(r, r.handleBroadcast, TypeMetadata, TypeControl, TypeTrackUpdate)
	on(r, r.handleTrackSync, TypeTrackSync)
	on(r, r.handleRequestTrackSync, TypeRequestTrackSync)
	on(r, r.handleLeave, TypeLeave)
	on(r, r.handlePong, TypePong)
}

// ---------------------------------------------------------------------------
//  Transport entry points
// ---------------------------------------------------------------------------

// Connect registers a freshly accepted transport session.
func (r *Router) Connect(sink Sink) (*Connection, error) {
	c, err := r.registry.Register(uuid.NewString(), sink, r.now())
	if err != nil {
		return nil, err
	}
	r.refreshGauges()
	zap.L().Debug("relay.connected", zap.String("conn", c.ID))
	return c, nil
}

// Handle processes one inbound frame to completion. The returned error
// only classifies what happened; the sender has already been told about
// admission errors and nothing else is ever surfaced to it.
func (r *Router) Handle(ctx context.Context, connID string, data []byte) error {
	c, ok := r.registry.Get(connID)
	if !ok {
		return ErrNotRegistered
	}
	c.op.Lock()
	defer c.op.Unlock()
	if c.isClosed() {
		return ErrNotRegistered
	}

	c.touch(r.now())

	var f frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
		err = fmt.Errorf("%w: missing or unreadable type", ErrMalformed)
		r.observe(c, "", err)
		return err
	}

	h, ok := r.handlers[f.Type]
	if !ok {
		// Unknown types are ignored.
		r.metrics.ObserveDrop("unknown_type")
		zap.L().Debug("relay.unknown_type", zap.String("conn", c.ID), zap.String("type", string(f.Type)))
		return nil
	}
	r.metrics.ObserveMessage(string(f.Type))

	err := h(ctx, c, f.Type, data)
	if err != nil {
		r.observe(c, f.Type, err)
	}
	return err
}

// Disconnect is the teardown path for a closed transport. Idempotent.
func (r *Router) Disconnect(connID string) {
	c, ok := r.registry.Get(connID)
	if !ok {
		return
	}
	c.op.Lock()
	defer c.op.Unlock()
	r.close(c)
}

// Expire tears down a connection the relay gave up on and closes its
// transport.
func (r *Router) Expire(connID string) {
	c, ok := r.registry.Get(connID)
	if !ok {
		return
	}
	c.op.Lock()
	defer c.op.Unlock()
	if r.close(c) {
		_ = c.sink.Close()
	}
}

// Touch records transport-level activity, such as a protocol pong, for
// the liveness sweep.
func (r *Router) Touch(connID string) {
	if c, ok := r.registry.Get(connID); ok {
		c.touch(r.now())
	}
}

// Run drives the liveness sweep until ctx is done.
func (r *Router) Run(ctx context.Context) { r.presence.Run(ctx) }

// ---------------------------------------------------------------------------
//  Handlers
// ---------------------------------------------------------------------------

func (r *Router) handleRegister(_ context.Context, c *Connection, _ MessageType, req RegisterRequest) error {
	if err := r.validate.Struct(req); err != nil {
		reason, ok := admissionReason(err)
		if !ok {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return r.reject(c, reason, req.Room)
	}
	role, _ := parseRole(req.Role)

	curRole, curRoom := c.membership()
	if curRole != RoleUnassigned {
		if curRole == role && curRoom == req.Room {
			r.delivery.SendTo(c.ID, Message{Type: TypeRegistered, Role: role, Room: curRoom, ID: c.ID})
			return nil
		}
		return r.reject(c, ReasonAlreadyRegistered, req.Room)
	}

	if role == RoleHost {
		return r.joinHost(c, req)
	}
	return r.joinListener(c, req)
}

func (r *Router) joinHost(c *Connection, req RegisterRequest) error {
	res := r.directory.JoinAsHost(req.Room, c.ID)
	if res.Outcome != Admitted {
		return r.reject(c, ReasonHostExists, req.Room)
	}
	c.assign(RoleHost, req.Room, displayName(req.Name))

	zap.L().Info("relay.host_joined",
		zap.String("room", req.Room),
		zap.String("conn", c.ID),
		zap.Int("waiting", len(res.Listeners)),
	)
	r.delivery.SendTo(c.ID, Message{Type: TypeRegistered, Role: RoleHost, Room: req.Room, ID: c.ID})
	if res.Created {
		r.publish(EventRoomOpened, req.Room, res.Generation, c.ID, RoleHost, len(res.Listeners))
	}
	r.publish(EventHostJoined, req.Room, res.Generation, c.ID, RoleHost, len(res.Listeners))
	r.presence.HostJoined(c.ID, res.Listeners)
	r.refreshGauges()
	return nil
}

func (r *Router) joinListener(c *Connection, req RegisterRequest) error {
	res := r.directory.JoinAsListener(req.Room, c.ID)
	if res.Outcome != Admitted {
		return r.reject(c, ReasonRoomFull, req.Room)
	}
	c.assign(RoleListener, req.Room, displayName(req.Name))

	zap.L().Info("relay.listener_joined",
		zap.String("room", req.Room),
		zap.String("conn", c.ID),
		zap.Bool("waiting", res.HostID == ""),
	)
	r.delivery.SendTo(c.ID, Message{Type: TypeRegistered, Role: RoleListener, Room: req.Room, ID: c.ID})
	if res.Created {
		r.publish(EventRoomOpened, req.Room, res.Generation, c.ID, RoleListener, res.Listeners)
	}
	r.publish(EventListenerJoined, req.Room, res.Generation, c.ID, RoleListener, res.Listeners)

	if res.HostID == "" {
		r.delivery.SendTo(c.ID, Message{Type: TypeWaiting, Room: req.Room})
	} else {
		r.presence.ListenerJoined(res.HostID, c.ID)
		for _, st := range res.State {
			r.delivery.SendTo(c.ID, st)
		}
	}
	r.refreshGauges()
	return nil
}

// handleSignal relays offer / answer / candidate to a member of the
// sender's room. Listeners may omit the target to reach their host.
func (r *Router) handleSignal(_ context.Context, c *Connection, typ MessageType, req SignalRequest) error {
	role, roomID := c.membership()
	if role == RoleUnassigned {
		return ErrNotRegistered
	}
	if err := r.check(req); err != nil {
		return err
	}

	target := req.Target
	if target == "" && role == RoleListener {
		target = r.directory.HostOf(roomID)
	}
	if target == "" || target == c.ID || !r.directory.IsMember(roomID, target) {
		return ErrRoutingMiss
	}
	r.delivery.SendTo(target, Message{Type: typ, From: c.ID, Payload: req.Payload})
	return nil
}

func (r *Router) handleBroadcast(_ context.Context, c *Connection, typ MessageType, req BroadcastRequest) error {
	role, roomID := c.membership()
	if role != RoleHost {
		return ErrNotHost
	}
	if err := r.check(req); err != nil {
		return err
	}

	msg := Message{Type: typ, From: c.ID, Payload: req.Payload}
	if !r.directory.RecordBroadcast(roomID, c.ID, msg) {
		return ErrNotHost
	}
	// c holds the host slot for as long as it is live, so excluding it
	// leaves the listeners.
	r.delivery.BroadcastToRoom(roomID, msg, c.ID)
	return nil
}

func (r *Router) handleTrackSync(_ context.Context, c *Connection, typ MessageType, req SyncRequest) error {
	role, roomID := c.membership()
	if role != RoleHost {
		return ErrNotHost
	}
	if req.Target == "" {
		return fmt.Errorf("%w: track-sync without target", ErrMalformed)
	}
	if !r.directory.IsListener(roomID, req.Target) {
		return ErrRoutingMiss
	}
	r.delivery.SendTo(req.Target, Message{Type: typ, From: c.ID, Payload: req.Payload})
	return nil
}

func (r *Router) handleRequestTrackSync(_ context.Context, c *Connection, typ MessageType, req SyncRequest) error {
	role, roomID := c.membership()
	if role != RoleListener {
		return ErrRoutingMiss
	}
	host := r.directory.HostOf(roomID)
	if host == "" || (req.Target != "" && req.Target != host) {
		return ErrRoutingMiss
	}
	r.delivery.SendTo(host, Message{Type: typ, From: c.ID, Payload: req.Payload})
	return nil
}

// handleLeave ends the session: leaving is terminal, the transport is
// closed and the client has to reconnect to register again.
func (r *Router) handleLeave(_ context.Context, c *Connection, _ MessageType, _ Empty) error {
	if r.close(c) {
		_ = c.sink.Close()
	}
	return nil
}

// handlePong has nothing to do; Handle already refreshed lastSeen.
func (r *Router) handlePong(context.Context, *Connection, MessageType, Empty) error { return nil }

// ---------------------------------------------------------------------------
//  Helpers
// ---------------------------------------------------------------------------

// close removes c from its room and the registry. Callers hold c.op.
func (r *Router) close(c *Connection) bool {
	if !c.markClosed() {
		return false
	}
	r.teardown(c)
	r.registry.Remove(c.ID)
	r.refreshGauges()
	zap.L().Debug("relay.disconnected", zap.String("conn", c.ID))
	return true
}

func (r *Router) teardown(c *Connection) {
	role, roomID := c.membership()
	if role == RoleUnassigned {
		return
	}
	c.assign(RoleUnassigned, "", "")

	dep := r.directory.Leave(roomID, c.ID)
	if !dep.Found {
		return
	}
	if dep.WasHost {
		zap.L().Info("relay.host_left", zap.String("room", roomID), zap.String("conn", c.ID))
		r.presence.HostLeft(roomID, dep.Listeners)
		r.publish(EventHostLeft, roomID, dep.Generation, c.ID, RoleHost, len(dep.Listeners))
	} else {
		zap.L().Info("relay.listener_left", zap.String("room", roomID), zap.String("conn", c.ID))
		if dep.HostID != "" {
			r.presence.ListenerLeft(dep.HostID, c.ID)
		}
		r.publish(EventListenerLeft, roomID, dep.Generation, c.ID, RoleListener, len(dep.Listeners))
	}
	if dep.Deleted {
		r.publish(EventRoomClosed, roomID, dep.Generation, "", "", 0)
	}
}

func (r *Router) reject(c *Connection, reason, roomID string) error {
	e := &AdmissionError{Reason: reason, Room: roomID}
	r.delivery.SendTo(c.ID, e.frame())
	return e
}

func (r *Router) check(req any) error {
	if err := r.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// admissionReason maps a register validation failure to the reason sent
// back to the client. Failures on other fields are plain malformed frames.
func admissionReason(err error) (string, bool) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "", false
	}
	reason := ""
	for _, fe := range verrs {
		switch fe.Field() {
		case "Room":
			if fe.Tag() == "required" {
				return ReasonMissingRoom, true
			}
			reason = ReasonInvalidRoom
		case "Role":
			if reason == "" {
				reason = ReasonInvalidRole
			}
		}
	}
	if reason != "" {
		return reason, true
	}
	return "", false
}

func (r *Router) publish(kind EventKind, roomID string, gen uint64, connID string, role Role, listeners int) {
	r.events.Publish(Event{
		Kind:       kind,
		RoomID:     roomID,
		Generation: gen,
		ConnID:     connID,
		Role:       role,
		Listeners:  listeners,
		At:         r.now(),
	})
}

// displayName bounds the informational client name.
func displayName(name string) string {
	if utf8.RuneCountInString(name) <= MaxNameLength {
		return name
	}
	return string([]rune(name)[:MaxNameLength])
}

func (r *Router) observe(c *Connection, typ MessageType, err error) {
	var adm *AdmissionError
	switch {
	case errors.As(err, &adm):
		r.metrics.ObserveRejection(adm.Reason)
		zap.L().Info("relay.admission_rejected",
			zap.String("conn", c.ID),
			zap.String("room", adm.Room),
			zap.String("reason", adm.Reason),
		)
		return
	case errors.Is(err, ErrMalformed):
		r.metrics.ObserveDrop("malformed")
	case errors.Is(err, ErrNotRegistered):
		r.metrics.ObserveDrop("not_registered")
	case errors.Is(err, ErrNotHost):
		r.metrics.ObserveDrop("not_host")
	case errors.Is(err, ErrRoutingMiss):
		r.metrics.ObserveDrop("routing_miss")
	default:
		r.metrics.ObserveDrop("other")
	}
	zap.L().Debug("relay.dropped",
		zap.String("conn", c.ID),
		zap.String("type", string(typ)),
		zap.Error(err),
	)
}

func (r *Router) refreshGauges() {
	r.metrics.SetConnections(r.registry.Len())
	r.metrics.SetRooms(r.directory.Len())
}

// ---------------------------------------------------------------------------
//  Introspection
// ---------------------------------------------------------------------------

type Stats struct {
	DirectoryStats
	Connections int `json:"connections"`
}

func (r *Router) Stats() Stats {
	return Stats{DirectoryStats: r.directory.Stats(), Connections: r.registry.Len()}
}

func (r *Router) Rooms() []RoomInfo { return r.directory.Rooms() }

func (r *Router) Room(roomID string) (RoomInfo, bool) { return r.directory.Room(roomID) }
