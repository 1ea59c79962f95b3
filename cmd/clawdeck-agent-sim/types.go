package main

import (
	"context"
	"time"

	"github.com/castleridge-io/clawdeck-sub002/internal/engine"
)

// SimConfig holds the complete simulator configuration
type SimConfig struct {
	Timing    TimingConfig  `yaml:"timing"`
	Behaviors []Behavior    `yaml:"behaviors"`
	Default   DefaultConfig `yaml:"default"`
	Logging   LoggingConfig `yaml:"logging"`
}

type TimingConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	DefaultWorkDelay time.Duration `yaml:"default_work_delay"`
}

type DefaultConfig struct {
	Behavior Behavior `yaml:"behavior"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ActionType defines what the simulator does with a claimed step
type ActionType string

const (
	ActionComplete        ActionType = "complete"
	ActionFail            ActionType = "fail"
	ActionFailThenSucceed ActionType = "fail_then_succeed"
	ActionHang            ActionType = "hang"
)

// Behavior defines how the simulator responds to a claim
type Behavior struct {
	Match string `yaml:"match"`
	// Type is "step" (template step id, the default), "contains" or "regex"
	// (both against the resolved input).
	Type   string `yaml:"type"`
	Action Action `yaml:"action"`
}

// Action defines the simulator's response action
type Action struct {
	Type            ActionType    `yaml:"type"`
	Delay           time.Duration `yaml:"delay"`
	Output          string        `yaml:"output"`
	OutputsSequence []string      `yaml:"outputs_sequence"` // One output per call, the last one repeats
	FailCount       int           `yaml:"fail_count"`
	FailMessage     string        `yaml:"fail_message"`
}

// EngineClient is the part of the API the simulator drives.
type EngineClient interface {
	Claim(ctx context.Context, agentID string) (*engine.ClaimResult, error)
	Complete(ctx context.Context, stepID, output string) (*engine.CompleteResult, error)
	Fail(ctx context.Context, stepID, reason string) (*engine.FailResult, error)
}
