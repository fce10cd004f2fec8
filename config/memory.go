package config

import "os"

type MemoryConfig struct {
	// DataDir holds the per-(agent, grain) vector partitions.
	// Default: ~/.agentmemory
	DataDir string `yaml:"dataDir"`

	// DefaultQueryLimit is used when a search does not specify a limit.
	DefaultQueryLimit int `yaml:"defaultQueryLimit"`

	// MaxQueryLimit caps every vector query; also the candidate pool size for
	// the working-grain recency sort.
	MaxQueryLimit int `yaml:"maxQueryLimit"`

	// ExtractionPrompt is the configurable base of the extraction system
	// prompt. The summary-field instruction is always appended.
	ExtractionPrompt string `yaml:"extractionPrompt"`
}

func NewMemoryConfig() *MemoryConfig {
	conf := &MemoryConfig{
		DataDir:           defaultDataDir(),
		DefaultQueryLimit: 10,
		MaxQueryLimit:     100,
	}
	if v := os.Getenv("AGENTMEMORY_DATA_DIR"); v != "" {
		conf.DataDir = v
	}
	return conf
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentmemory"
	}
	return home + "/.agentmemory"
}
