package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLevel(t *testing.T) {
	assert.Equal(t, zap.InfoLevel, Level(0))
	assert.Equal(t, zap.DebugLevel, Level(1))
	assert.Equal(t, zap.DebugLevel, Level(3))
}

func TestNew(t *testing.T) {
	logger, err := New(0)
	require.NoError(t, err)
	assert.False(t, logger.Desugar().Core().Enabled(zap.DebugLevel))

	logger, err = New(1)
	require.NoError(t, err)
	assert.True(t, logger.Desugar().Core().Enabled(zap.DebugLevel))
}
