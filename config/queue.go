package config

import "os"

type QueueConfig struct {
	ProjectID string `yaml:"projectId"`

	// Topic is the single well-known ordered topic for vector write
	// operations. Messages are ordered per (agent, grain) key only.
	Topic string `yaml:"topic"`
}

func NewQueueConfig() *QueueConfig {
	conf := &QueueConfig{
		Topic: "memory-write-operations",
	}
	if v := os.Getenv("AGENTMEMORY_PROJECT_ID"); v != "" {
		conf.ProjectID = v
	}
	if v := os.Getenv("AGENTMEMORY_WRITE_TOPIC"); v != "" {
		conf.Topic = v
	}
	return conf
}
