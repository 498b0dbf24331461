// Package logging builds the service logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLocal = "local"
	EnvProd  = "prod"
)

// New returns a console logger for local runs and a JSON logger otherwise.
// debug lowers the level to Debug in either mode.
func New(env string, debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if env == EnvLocal {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build(zap.Fields(zap.String("env", env)))
}
