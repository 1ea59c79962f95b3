package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads simulator configuration from a YAML file.
func LoadConfig(path string) (SimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SimConfig{}, err
	}

	config := NewDefaultSimConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return SimConfig{}, err
	}

	return config, nil
}

// NewDefaultSimConfig returns a default simulator configuration.
func NewDefaultSimConfig() SimConfig {
	return SimConfig{
		Timing: TimingConfig{
			PollInterval:     200 * time.Millisecond,
			DefaultWorkDelay: 100 * time.Millisecond,
		},
		Behaviors: []Behavior{},
		Default: DefaultConfig{
			Behavior: Behavior{
				Action: Action{
					Type:   ActionComplete,
					Output: "STATUS: done",
				},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
