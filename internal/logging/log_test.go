package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New("loud")
	require.Error(t, err)

	logger, err := New("debug")
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestWithPackage(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := WithPackage(zap.New(core))

	logger.Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "logging", entries[0].ContextMap()["package"])
}
