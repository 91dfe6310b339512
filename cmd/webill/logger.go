package main

import (
	"github.com/septivank/webill/internal/config"
	"github.com/septivank/webill/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(logging.Options{
		Service: cfg.ServiceName,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})
}
