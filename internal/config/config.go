package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv   string `env:"APP_ENV"   envDefault:"dev"  validate:"oneof=dev prod"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	HttpServerPort uint16   `env:"HTTP_SERVER_PORT" envDefault:"3000" validate:"min=1,max=65535"`
	CorsAllow      []string `env:"CORS_ALLOW"       envDefault:"*"    envSeparator:","`
	StaticDir      string   `env:"STATIC_DIR"`

	RoomCapacity   int           `env:"ROOM_CAPACITY"    envDefault:"3"   validate:"min=1,max=1024"`
	PingInterval   time.Duration `env:"PING_INTERVAL"    envDefault:"25s" validate:"min=1s"`
	MaxMissedPings int           `env:"MAX_MISSED_PINGS" envDefault:"0"   validate:"min=0"`

	WsMaxMessageSize int64 `env:"WS_MAX_MESSAGE_SIZE" envDefault:"65536" validate:"min=512"`
	WsSendBuffer     int   `env:"WS_SEND_BUFFER"      envDefault:"256"   validate:"min=1"`

	RedisEnabled       bool   `env:"REDIS_ENABLED"        envDefault:"false"`
	RedisHost          string `env:"REDIS_HOST"           envDefault:"localhost"`
	RedisPort          uint16 `env:"REDIS_PORT"           envDefault:"6379" validate:"min=1,max=65535"`
	RedisDB            int    `env:"REDIS_DB"             envDefault:"0"    validate:"min=0"`
	RedisEventsChannel string `env:"REDIS_EVENTS_CHANNEL" envDefault:"relay:events" validate:"required"`
	RedisStatsKey      string `env:"REDIS_STATS_KEY"      envDefault:"relay:stats"  validate:"required"`

	PostgresDSN string `env:"POSTGRES_DSN"`
}

// LoadConfig reads envFile (if present) into the environment, then parses
// and validates the config.
func LoadConfig(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	err := godotenv.Load(envFile)
	if err != nil {
		zap.L().Debug(".env file not found", zap.String("path", envFile), zap.Error(err))
	}

	cfg := &Config{}
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}

// ZapLevel maps LogLevel to a zap level; unknown values fall back to info.
func (c *Config) ZapLevel() zap.AtomicLevel {
	lvl, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return lvl
}
