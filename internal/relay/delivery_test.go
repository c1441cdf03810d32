package relay

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncrelay/internal/metrics"
)

func TestDelivery_BroadcastToRoom(t *testing.T) {
	reg := NewRegistry()
	dir := NewDirectory(3, reg.Live)
	m := metrics.New()
	d := NewDelivery(reg, dir, m)

	sinks := map[string]*mockSink{}
	for _, id := range []string{"h", "l1", "l2", "l3"} {
		sinks[id] = &mockSink{}
		_, err := reg.Register(id, sinks[id], time.Now())
		require.NoError(t, err)
	}
	require.Equal(t, Admitted, dir.JoinAsHost("r", "h").Outcome)
	for _, id := range []string{"l1", "l2", "l3"} {
		require.Equal(t, Admitted, dir.JoinAsListener("r", id).Outcome)
	}
	sinks["l1"].fail = true

	d.BroadcastToRoom("r", Message{Type: TypePeerLeft, ID: "x"}, "l3")

	assert.Len(t, sinks["h"].ofType(TypePeerLeft), 1)
	assert.Empty(t, sinks["l1"].messages())
	assert.Len(t, sinks["l2"].ofType(TypePeerLeft), 1)
	assert.Empty(t, sinks["l3"].messages())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryFailures))

	// unknown rooms are a no-op
	d.BroadcastToRoom("missing", Message{Type: TypePeerLeft}, "")
	assert.Len(t, sinks["h"].messages(), 1)
}
