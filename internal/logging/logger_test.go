package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(Options{Service: "webill", Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger(Options{Service: "webill"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(Options{Service: "webill", Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}

func TestFieldHelpers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	WithRequestID(base, "").Info("no request")
	logger := WithAccount(WithRequestID(base, "req-1"), "acc-1", "ADMIN")
	WithBill(WithReading(logger, "r-1"), "b-1").Info("billed")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Empty(t, entries[0].ContextMap())
	assert.Equal(t, map[string]interface{}{
		"request_id": "req-1",
		"account_id": "acc-1",
		"role":       "ADMIN",
		"reading_id": "r-1",
		"bill_id":    "b-1",
	}, entries[1].ContextMap())
}
