package config

import (
	"os"

	"github.com/goccy/go-yaml"
	"github.com/habiliai/agentmemory/errors"
)

type Config struct {
	Log     *LogConfig     `yaml:"log"`
	Model   *ModelConfig   `yaml:"model"`
	Memory  *MemoryConfig  `yaml:"memory"`
	Storage *StorageConfig `yaml:"storage"`
	Queue   *QueueConfig   `yaml:"queue"`
}

func New() *Config {
	return &Config{
		Log:     NewLogConfig(),
		Model:   NewModelConfig(),
		Memory:  NewMemoryConfig(),
		Storage: NewStorageConfig(),
		Queue:   NewQueueConfig(),
	}
}

// LoadFile overlays a YAML config file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	conf := New()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	return conf, nil
}
