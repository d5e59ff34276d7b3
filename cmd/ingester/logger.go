package main

import (
	"github.com/quietstack/telemetry-ingester/internal/config"
	"github.com/quietstack/telemetry-ingester/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
