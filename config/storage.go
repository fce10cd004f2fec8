package config

import "os"

type StorageConfig struct {
	// Bucket holds graph snapshots, one object per (workspace, agent).
	Bucket string `yaml:"bucket"`

	// EmulatorHost points snapshot I/O at a local storage emulator instead of
	// cloud credentials resolved from the environment.
	EmulatorHost string `yaml:"emulatorHost"`

	// LocalDir, when set, stores snapshots on the local filesystem instead of
	// the bucket. Meant for single-node deployments and tests.
	LocalDir string `yaml:"localDir"`
}

func NewStorageConfig() *StorageConfig {
	conf := &StorageConfig{
		Bucket: "agentmemory-snapshots",
	}
	if v := os.Getenv("AGENTMEMORY_SNAPSHOT_BUCKET"); v != "" {
		conf.Bucket = v
	}
	if v := os.Getenv("STORAGE_EMULATOR_HOST"); v != "" {
		conf.EmulatorHost = v
	}
	if v := os.Getenv("AGENTMEMORY_SNAPSHOT_DIR"); v != "" {
		conf.LocalDir = v
	}
	return conf
}
