package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teatalks/teatalks/pkg/logger"
)

func TestConfigureLogging(t *testing.T) {
	require.NoError(t, ConfigureLogging(LogConfig{Level: "debug"}, ModeDebug))
	require.NoError(t, ConfigureLogging(LogConfig{}, ModeRelease))
}

func TestConfigureLoggingWithFileSink(t *testing.T) {
	file := filepath.Join(t.TempDir(), "api.log")
	t.Cleanup(func() { _ = logger.Init("info") })
	require.NoError(t, ConfigureLogging(LogConfig{Level: "info", File: file}, ModeRelease))
}
