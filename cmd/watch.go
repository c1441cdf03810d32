package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"syncrelay/internal/config"
	"syncrelay/internal/redis/eventbus"
	"syncrelay/internal/redis/redis_client"
	"syncrelay/internal/relay"
)

var flagWatchRoom string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print room events published by relay instances",
	Long: `Subscribe to the Redis events channel and print every membership event
as one JSON line. Requires the relay to run with REDIS_ENABLED=true.

Examples:
  syncrelay watch
  syncrelay watch --room lobby`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(flagEnvFile)
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()
		zap.ReplaceGlobals(log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rdb, err := redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort), cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		return eventbus.Subscribe(ctx, rdb, cfg.RedisEventsChannel, func(e relay.Event) {
			if flagWatchRoom != "" && e.RoomID != flagWatchRoom {
				return
			}
			if err := enc.Encode(e); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "write:", err)
			}
		})
	},
}

func init() {
	watchCmd.Flags().StringVar(&flagWatchRoom, "room", "", "only print events for this room")
}
