package util

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_configDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Validate()
	assert.Equal(t, DefaultChunkCapacity, cfg.Engine.ChunkCapacity)
	assert.Equal(t, DefaultToastCapacity, cfg.Engine.ToastCapacity)
	assert.Equal(t, DefaultWindowSize, cfg.Engine.WindowSize)
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.Engine.Workers)
}

func Test_configRounding(t *testing.T) {
	cfg := &Config{}
	cfg.Engine.ChunkCapacity = 1000
	cfg.Engine.WindowSize = 2
	cfg.Validate()
	// capacity rounds up to a power of two
	assert.Equal(t, 1024, cfg.Engine.ChunkCapacity)
	// a window below the pairwise-merge minimum falls back to the default
	assert.Equal(t, DefaultWindowSize, cfg.Engine.WindowSize)
}

func Test_loadConfig(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "sorter.toml")
	content := `
[engine]
chunkCapacity = 512
windowSize = 6
workers = 2

[debug]
printExplain = true
logLevel = "debug"
`
	require.NoError(t, os.WriteFile(fpath, []byte(content), 0644))

	cfg := &Config{}
	require.NoError(t, LoadConfig(fpath, cfg))
	assert.Equal(t, 512, cfg.Engine.ChunkCapacity)
	assert.Equal(t, 6, cfg.Engine.WindowSize)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, DefaultToastCapacity, cfg.Engine.ToastCapacity)
	assert.True(t, cfg.Debug.PrintExplain)
	assert.Equal(t, "debug", cfg.Debug.LogLevel)
}

func Test_loadConfigMissing(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, LoadConfig(filepath.Join(t.TempDir(), "absent.toml"), cfg))
}
