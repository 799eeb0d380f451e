package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_SetsGlobals(t *testing.T) {
	old := SetServiceName("ladder_test")
	defer SetServiceName(old)

	l, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	assert.Same(t, l, InfoLogger)
	assert.Same(t, l, FatalLogger)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.ErrorLevel))

	assert.NotPanics(t, func() { Info("hello %d", 1) })
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}
