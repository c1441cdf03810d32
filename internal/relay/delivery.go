package relay

import (
	"encoding/json"

	"go.uber.org/zap"

	"syncrelay/internal/metrics"
)

// Delivery performs best-effort sends. Failures are logged and counted,
// never retried and never reported to the caller.
type Delivery struct {
	registry  *Registry
	directory *Directory
	metrics   *metrics.Metrics
}

func NewDelivery(reg *Registry, dir *Directory, m *metrics.Metrics) *Delivery {
	return &Delivery{registry: reg, directory: dir, metrics: m}
}

func encode(msg Message) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		zap.L().Error("relay.encode", zap.String("type", string(msg.Type)), zap.Error(err))
		return nil, false
	}
	return data, true
}

// SendTo delivers msg to a single connection.
func (d *Delivery) SendTo(connID string, msg Message) {
	data, ok := encode(msg)
	if !ok {
		return
	}
	d.sendRaw(connID, msg.Type, data)
}

// BroadcastToRoom delivers msg to every member of roomID except excludeID.
func (d *Delivery) BroadcastToRoom(roomID string, msg Message, excludeID string) {
	m, ok := d.directory.MembersOf(roomID)
	if !ok {
		return
	}
	ids := m.Listeners
	if m.HostID != "" {
		ids = append([]string{m.HostID}, ids...)
	}
	d.fanOut(ids, msg, excludeID)
}

func (d *Delivery) fanOut(ids []string, msg Message, excludeID string) {
	if len(ids) == 0 {
		return
	}
	data, ok := encode(msg)
	if !ok {
		return
	}
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		d.sendRaw(id, msg.Type, data)
	}
}

func (d *Delivery) sendRaw(connID string, typ MessageType, data []byte) {
	c, ok := d.registry.Get(connID)
	if !ok {
		d.metrics.ObserveDeliveryFailure()
		zap.L().Debug("relay.send_absent", zap.String("conn", connID), zap.String("type", string(typ)))
		return
	}
	if err := c.sink.Send(data); err != nil {
		d.metrics.ObserveDeliveryFailure()
		zap.L().Warn("relay.send_failed",
			zap.String("conn", connID),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}
