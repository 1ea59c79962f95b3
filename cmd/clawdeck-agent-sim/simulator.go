package main

import (
	"context"
	"log/slog"
	"time"
)

// Stats counts what a simulator did.
type Stats struct {
	Claimed   int
	Completed int
	Failed    int
}

// Simulator polls the engine on behalf of one or more agents and answers
// each claim with a scripted behavior.
type Simulator struct {
	config SimConfig
	logger *slog.Logger
	client EngineClient
	agents []string

	// MaxIdle stops Run after this many consecutive polls without work.
	// Zero polls until the context is cancelled.
	MaxIdle int

	stats          Stats
	attemptCounts  map[string]int
	sequenceCounts map[string]int
}

// NewSimulator creates a simulator for agents.
func NewSimulator(config SimConfig, client EngineClient, agents []string, logger *slog.Logger) *Simulator {
	return &Simulator{
		config:         config,
		logger:         logger,
		client:         client,
		agents:         agents,
		attemptCounts:  make(map[string]int),
		sequenceCounts: make(map[string]int),
	}
}

// Run polls until ctx is cancelled or MaxIdle idle rounds pass.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("simulator starting", "agents", s.agents, "poll_interval", s.config.Timing.PollInterval)

	idle := 0
	for {
		worked, err := s.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if worked {
			idle = 0
			continue
		}
		idle++
		if s.MaxIdle > 0 && idle >= s.MaxIdle {
			s.logger.Info("no more work, exiting", "claimed", s.stats.Claimed, "completed", s.stats.Completed, "failed", s.stats.Failed)
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.config.Timing.PollInterval):
		}
	}
}

// poll claims once for every agent and handles what it gets.
func (s *Simulator) poll(ctx context.Context) (bool, error) {
	worked := false
	for _, agent := range s.agents {
		claim, err := s.client.Claim(ctx, agent)
		if err != nil {
			return worked, err
		}
		if !claim.Found {
			continue
		}
		worked = true
		s.stats.Claimed++
		s.logger.Debug("claimed", "agent", agent, "step", claim.Step, "story", claim.StoryID)

		if err := s.executeBehavior(ctx, s.matchBehavior(claim), claim); err != nil {
			return worked, err
		}
	}
	return worked, nil
}

// Stats returns the counters so far.
func (s *Simulator) Stats() Stats {
	return s.stats
}
