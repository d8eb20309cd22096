package logger

import (
	"testing"

	"github.com/cozy-creator/genjobs/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestForEnvironment(t *testing.T) {
	prod, err := ForEnvironment("prod")
	require.NoError(t, err)
	assert.False(t, prod.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, prod.Core().Enabled(zapcore.InfoLevel))

	dev, err := ForEnvironment("dev")
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))

	example := MustNewLogger(&config.Config{Environment: "test"})
	assert.True(t, example.Core().Enabled(zapcore.DebugLevel))
}
