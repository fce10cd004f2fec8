package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/habiliai/agentmemory/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	conf := config.New()

	assert.Equal(t, "info", conf.Log.LogLevel)
	assert.Equal(t, "text-embedding-3-small", conf.Model.EmbeddingModel)
	assert.Equal(t, 1536, conf.Model.EmbeddingDimension)
	assert.Equal(t, 10, conf.Memory.DefaultQueryLimit)
	assert.Equal(t, 100, conf.Memory.MaxQueryLimit)
	assert.NotEmpty(t, conf.Memory.DataDir)
	assert.Equal(t, "memory-write-operations", conf.Queue.Topic)
}

func TestLoadFile_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  logLevel: debug
memory:
  defaultQueryLimit: 5
storage:
  bucket: custom-bucket
`), 0644))

	conf, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", conf.Log.LogLevel)
	assert.Equal(t, 5, conf.Memory.DefaultQueryLimit)
	assert.Equal(t, "custom-bucket", conf.Storage.Bucket)

	// Untouched sections keep their defaults.
	assert.Equal(t, 100, conf.Memory.MaxQueryLimit)
	assert.Equal(t, "text-embedding-3-small", conf.Model.EmbeddingModel)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
