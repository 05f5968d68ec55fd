// README: zap logger construction from config.
package infra

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chauffeur/internal/config"
)

func NewLogger(cfg config.LoggerConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zapConfig.Level.SetLevel(level)

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
