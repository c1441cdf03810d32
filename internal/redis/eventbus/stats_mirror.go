package eventbus

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"syncrelay/internal/relay"
)

const pipeTimeout = 1500 * time.Millisecond

// StatsFunc returns the current relay counters.
type StatsFunc func() relay.Stats

// RunStatsMirror writes the relay counters into a Redis hash every
// interval. The hash expires after three missed updates so a dead
// instance does not leave stale numbers behind.
func RunStatsMirror(ctx context.Context, rdb *redis.Client, key string, interval time.Duration, stats StatsFunc) {
	tk := time.NewTicker(interval)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				mirrorOnce(ctx, rdb, key, 3*interval, stats(), time.Now())
			}
		}
	}()
}

func mirrorOnce(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration, st relay.Stats, now time.Time) {
	ctx, cancel := context.WithTimeout(ctx, pipeTimeout)
	defer cancel()

	pipe := rdb.Pipeline()
	pipe.HSet(ctx, key,
		"rooms", st.Rooms,
		"hosts", st.Hosts,
		"listeners", st.Listeners,
		"connections", st.Connections,
		"updated_at", now.Unix(),
	)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		zap.L().Warn("eventbus.stats_mirror", zap.String("key", key), zap.Error(err))
	}
}
