package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"syncrelay/internal/config"
	"syncrelay/internal/database/db_client"
	"syncrelay/internal/database/sessionlog"
	"syncrelay/internal/http/http_server"
	"syncrelay/internal/metrics"
	"syncrelay/internal/redis/eventbus"
	"syncrelay/internal/redis/redis_client"
	"syncrelay/internal/relay"
	"syncrelay/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd)
	},
}

func serve(cmd *cobra.Command) error {
	// 1. Load configuration
	cfg, err := config.LoadConfig(flagEnvFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.HttpServerPort = flagPort
	}
	if cmd.Flags().Changed("capacity") {
		cfg.RoomCapacity = flagCapacity
	}

	// 2. Logger
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)
	log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 3. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	m := metrics.New()
	var sinks relay.Sinks

	// 4. Redis event bus (optional)
	var mirror func(r *relay.Router)
	if cfg.RedisEnabled {
		rdb, err := redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort), cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		publisher := eventbus.NewPublisher(rdb, cfg.RedisEventsChannel, 0)
		sinks = append(sinks, publisher)
		go publisher.Run(ctx)
		log.Info("Redis event bus enabled", zap.String("channel", cfg.RedisEventsChannel))

		// the stats mirror needs the router, it is started in step 6
		mirror = func(r *relay.Router) {
			eventbus.RunStatsMirror(ctx, rdb, cfg.RedisStatsKey, cfg.PingInterval, r.Stats)
		}
	}

	// 5. Postgres session ledger (optional)
	if cfg.PostgresDSN != "" {
		pgDb, err := db_client.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pgDb.Close()
		ledger := sessionlog.New(pgDb, 0)
		if err := ledger.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, ledger)
		go ledger.Run(ctx)
		log.Info("Session ledger enabled")
	}

	// 6. Relay core
	opts := relay.Options{
		Capacity:       cfg.RoomCapacity,
		PingInterval:   cfg.PingInterval,
		MaxMissedPings: cfg.MaxMissedPings,
		Metrics:        m,
	}
	if len(sinks) > 0 {
		opts.Events = sinks
	}
	router := relay.NewRouter(opts)
	go router.Run(ctx)
	if mirror != nil {
		mirror(router)
	}

	// 7. Websocket transport
	wsSrv := ws.NewWsServer(router, ws.Options{
		AllowedOrigins: cfg.CorsAllow,
		SendBuffer:     cfg.WsSendBuffer,
		MaxMessageSize: cfg.WsMaxMessageSize,
	})

	// 8. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, http_server.Options{
		ListenPort: cfg.HttpServerPort,
		CorsAllow:  cfg.CorsAllow,
		StaticDir:  cfg.StaticDir,
		AccessLog:  cfg.AppEnv == "dev",
		WsServer:   wsSrv,
		Rooms:      router,
		Metrics:    m,
	})
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	return httpServer.Dispose()
}
