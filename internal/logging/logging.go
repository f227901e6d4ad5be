// Package logging builds the zap logger shared by the server and CLI.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for the given mode: "dev" gives colored console
// output, "prod" gives JSON. Anything else falls back to dev.
func New(mode string) (*zap.Logger, error) {
	var cfg zap.Config

	switch mode {
	case "dev":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "prod":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}

	return cfg.Build()
}
