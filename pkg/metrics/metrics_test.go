package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledMetricsAreNoOps(t *testing.T) {
	// The registry is write-once, so the disabled path must run before any
	// test initializes it.
	require.Nil(t, GetRegistry())
	assert.False(t, IsEnabled())

	m := NewConnectorMetrics()
	assert.Nil(t, m)

	// Nil receivers must be safe to call.
	m.ObserveCommand("open", "ok", time.Millisecond)
}

func TestInitRegistry(t *testing.T) {
	InitRegistry()
	require.NotNil(t, GetRegistry())
	assert.True(t, IsEnabled())

	first := GetRegistry()
	InitRegistry()
	assert.Same(t, first, GetRegistry(), "repeated init keeps the first registry")

	m := NewConnectorMetrics()
	require.NotNil(t, m)
	m.ObserveCommand("open", "ok", 5*time.Millisecond)
	m.ObserveCommand("mkdir", "invalid", 0)

	families, err := GetRegistry().Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "elfinderd_commands_total")
	assert.Contains(t, names, "elfinderd_command_duration_seconds")
}
