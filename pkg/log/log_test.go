package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("supervisor")
	logger.Info().Int("pid", 42).Msg("process started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "supervisor", entry["component"])
	assert.Equal(t, "process started", entry["message"])
	assert.Equal(t, float64(42), entry["pid"])
	assert.Equal(t, "info", entry["level"])
}

func TestInitLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger := WithComponent("reconciler")
	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cluster := WithCluster("cluster-1")
	cluster.Debug().Msg("checking")
	assert.Contains(t, buf.String(), `"cluster":"cluster-1"`)

	buf.Reset()
	monitor := WithMonitor("lb-1")
	monitor.Info().Msg("loaded")
	assert.Contains(t, buf.String(), `"monitor":"lb-1"`)

	buf.Reset()
	proc := WithPID(7)
	proc.Info().Msg("exited")
	assert.Contains(t, buf.String(), `"pid":7`)
}
