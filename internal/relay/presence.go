package relay

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultPingInterval is the liveness sweep period.
const DefaultPingInterval = 25 * time.Second

// Presence emits membership notifications and runs the liveness sweep.
type Presence struct {
	delivery  *Delivery
	registry  *Registry
	interval  time.Duration
	maxMissed int
	now       func() time.Time
	// expire tears a silent connection down; set by the Router.
	expire func(connID string)
}

func newPresence(d *Delivery, reg *Registry, interval time.Duration, maxMissed int) *Presence {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	return &Presence{
		delivery:  d,
		registry:  reg,
		interval:  interval,
		maxMissed: maxMissed,
		now:       time.Now,
		expire:    func(string) {},
	}
}

// HostJoined tells the host about every listener already in the room and
// asks those listeners to renegotiate with the new host.
func (p *Presence) HostJoined(hostID string, listeners []string) {
	for _, id := range listeners {
		p.delivery.SendTo(hostID, Message{Type: TypeListenerJoined, ID: id})
		p.delivery.SendTo(id, Message{Type: TypeResync, From: hostID})
	}
}

// HostLeft tells the remaining listeners that the host is gone.
func (p *Presence) HostLeft(roomID string, listeners []string) {
	p.delivery.fanOut(listeners, Message{Type: TypeHostLeft, Room: roomID}, "")
}

func (p *Presence) ListenerJoined(hostID, listenerID string) {
	p.delivery.SendTo(hostID, Message{Type: TypeListenerJoined, ID: listenerID})
}

func (p *Presence) ListenerLeft(hostID, listenerID string) {
	p.delivery.SendTo(hostID, Message{Type: TypePeerLeft, ID: listenerID})
}

// Run pings every live connection each interval until ctx is done.
func (p *Presence) Run(ctx context.Context) {
	tk := time.NewTicker(p.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			p.sweep()
		}
	}
}

func (p *Presence) sweep() {
	ping, ok := encode(Message{Type: TypePing})
	if !ok {
		return
	}
	now := p.now()
	deadline := time.Duration(p.maxMissed) * p.interval

	var expired int
	for _, c := range p.registry.Snapshot() {
		if p.maxMissed > 0 && now.Sub(c.LastSeen()) > deadline {
			zap.L().Info("relay.liveness_expired",
				zap.String("conn", c.ID),
				zap.Time("last_seen", c.LastSeen()),
			)
			p.expire(c.ID)
			expired++
			continue
		}
		p.delivery.sendRaw(c.ID, TypePing, ping)
	}
	if expired > 0 {
		zap.L().Debug("relay.sweep", zap.Int("expired", expired))
	}
}
