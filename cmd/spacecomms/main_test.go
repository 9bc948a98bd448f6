package main

import (
	"strings"
	"testing"

	"spacecomms/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetupLogger(t *testing.T) {
	logger, level, err := setupLogger("warn", "json")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level.Level())
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel), "level stays adjustable")

	_, _, err = setupLogger("info", "pretty")
	assert.NoError(t, err)
	_, _, err = setupLogger("loud", "json")
	assert.Error(t, err)
	_, _, err = setupLogger("info", "xml")
	assert.Error(t, err)
}

func TestRenderStatus(t *testing.T) {
	out := renderStatus(&api.HealthResponse{
		Status:        "healthy",
		NodeID:        "node-alpha",
		UptimeSeconds: 90,
		Peers:         api.PeerStats{Connected: 1, Total: 3},
		CdmsActive:    1200,
		Version:       "0.1.0",
	})
	for _, want := range []string{"node-alpha", "1 connected / 3 total", "1,200", "1m30s"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}
