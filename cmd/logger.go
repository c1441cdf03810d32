package cmd

import (
	"go.uber.org/zap"

	"syncrelay/internal/config"
)

// newLogger builds the process logger: a development console logger for
// APP_ENV=dev and the JSON production logger otherwise.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.AppEnv == "prod" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = cfg.ZapLevel()
	return zc.Build()
}
