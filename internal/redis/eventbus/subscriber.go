package eventbus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"syncrelay/internal/relay"
)

// Subscribe calls fn for every event published on channel by any relay
// instance until ctx is done or the connection drops.
func Subscribe(ctx context.Context, rdb *redis.Client, channel string, fn func(relay.Event)) error {
	pubsub := rdb.Subscribe(ctx, channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			e, err := decodeEvent(m.Payload)
			if err != nil {
				zap.L().Warn("eventbus.decode", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			fn(e)
		}
	}
}

func decodeEvent(payload string) (relay.Event, error) {
	var e relay.Event
	err := json.Unmarshal([]byte(payload), &e)
	return e, err
}
