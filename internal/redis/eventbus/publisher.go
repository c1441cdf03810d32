package eventbus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"syncrelay/internal/relay"
)

const (
	defaultQueue   = 1024
	publishTimeout = 1500 * time.Millisecond
)

// Publisher forwards relay events to a Redis pub/sub channel. Publish
// never blocks the relay: events are queued and dropped when the queue is
// full.
type Publisher struct {
	rdb     *redis.Client
	channel string
	queue   chan relay.Event
	dropped atomic.Int64
}

func NewPublisher(rdb *redis.Client, channel string, queue int) *Publisher {
	if queue <= 0 {
		queue = defaultQueue
	}
	return &Publisher{rdb: rdb, channel: channel, queue: make(chan relay.Event, queue)}
}

func (p *Publisher) Publish(e relay.Event) {
	select {
	case p.queue <- e:
	default:
		if n := p.dropped.Add(1); n == 1 || n%100 == 0 {
			zap.L().Warn("eventbus.queue_full", zap.Int64("dropped", n))
		}
	}
}

// Dropped is the number of events lost to a full queue.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Run drains the queue until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-p.queue:
			p.send(ctx, e)
		}
	}
}

func (p *Publisher) send(ctx context.Context, e relay.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		zap.L().Error("eventbus.encode", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		zap.L().Warn("eventbus.publish",
			zap.String("channel", p.channel),
			zap.String("kind", string(e.Kind)),
			zap.Error(err),
		)
	}
}
