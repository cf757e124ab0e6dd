package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfig_LoadsDefaults(t *testing.T) {
	initConfig()

	// The serve command reads its configuration through GetConfig; the
	// loaded config must carry the full defaults, not zero values.
	loaded := GetConfig()
	require.NotNil(t, loaded)
	assert.Equal(t, 8, loaded.Worker.Concurrency)
	assert.Equal(t, "8080", loaded.API.Port)
	assert.Equal(t, "memory", loaded.Queue.Backend)
	assert.Equal(t, "inprocess", loaded.Processor.Transport)
	require.NoError(t, loaded.Validate())
}

func TestInitConfig_EnvOverride(t *testing.T) {
	t.Setenv("ENRICHD_WORKER_CONCURRENCY", "16")

	initConfig()

	loaded := GetConfig()
	require.NotNil(t, loaded)
	assert.Equal(t, 16, loaded.Worker.Concurrency)
}
