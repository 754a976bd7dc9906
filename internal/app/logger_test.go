package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{AppEnv: "test", LogFormat: "json", LogLevel: "debug"}, &buf)
	logger.Debug("registry loaded", "session", "s1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "registry loaded", line["msg"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "s1", line["session"])
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{}, &buf)
	logger.Debug("hidden")
	require.Empty(t, buf.String())
}
