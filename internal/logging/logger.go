package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the logger's level and encoding
type Options struct {
	Service string
	Level   string
	// Format is "json" for production or "console" for local runs
	Format string
}

// NewLogger creates a structured logger tagged with the service name
func NewLogger(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	config := zap.NewProductionConfig()
	if opts.Format == "console" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.InitialFields = map[string]interface{}{
		"service": opts.Service,
	}

	return config.Build()
}

// WithRequestID returns a logger with request_id field
func WithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	if requestID == "" {
		return logger
	}
	return logger.With(zap.String("request_id", requestID))
}

// WithAccount returns a logger with the caller's account and role
func WithAccount(logger *zap.Logger, accountID, role string) *zap.Logger {
	return logger.With(zap.String("account_id", accountID), zap.String("role", role))
}

// WithReading tags a logger with the reading it is working on
func WithReading(logger *zap.Logger, readingID string) *zap.Logger {
	return logger.With(zap.String("reading_id", readingID))
}

// WithBill tags a logger with a bill id
func WithBill(logger *zap.Logger, billID string) *zap.Logger {
	return logger.With(zap.String("bill_id", billID))
}
