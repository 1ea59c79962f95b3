package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/castleridge-io/clawdeck-sub002/internal/engine"
)

// behaviorRegexCache caches compiled regular expressions.
var behaviorRegexCache = struct {
	sync.RWMutex
	cache map[string]*regexp.Regexp
}{
	cache: make(map[string]*regexp.Regexp),
}

// matchBehavior finds the first behavior that matches the claim.
// Returns the default behavior if none matches.
func (s *Simulator) matchBehavior(claim *engine.ClaimResult) *Behavior {
	for i := range s.config.Behaviors {
		b := &s.config.Behaviors[i]
		if matches(b, claim) {
			s.logger.Debug("behavior matched", "pattern", b.Match, "type", b.Type, "step", claim.Step)
			return b
		}
	}
	s.logger.Debug("using default behavior", "step", claim.Step)
	return &s.config.Default.Behavior
}

// matches checks if a behavior pattern matches the claim.
func matches(b *Behavior, claim *engine.ClaimResult) bool {
	switch b.Type {
	case "regex":
		return matchRegex(b.Match, claim.Input)
	case "contains":
		return strings.Contains(claim.Input, b.Match)
	default:
		return b.Match == claim.Step
	}
}

// matchRegex performs regex matching with caching.
func matchRegex(pattern, text string) bool {
	behaviorRegexCache.RLock()
	re, ok := behaviorRegexCache.cache[pattern]
	behaviorRegexCache.RUnlock()

	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return false
		}
		behaviorRegexCache.Lock()
		behaviorRegexCache.cache[pattern] = re
		behaviorRegexCache.Unlock()
	}

	return re.MatchString(text)
}

// executeBehavior carries out the action of b for a claimed step.
func (s *Simulator) executeBehavior(ctx context.Context, b *Behavior, claim *engine.ClaimResult) error {
	action := b.Action

	delay := action.Delay
	if delay == 0 {
		delay = s.config.Timing.DefaultWorkDelay
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	switch action.Type {
	case ActionFail:
		return s.actionFail(ctx, claim, action, "")
	case ActionFailThenSucceed:
		return s.actionFailThenSucceed(ctx, b, claim, action)
	case ActionHang:
		s.logger.Info("abandoning step (simulating stuck agent)", "step_id", claim.StepID)
		return nil
	case ActionComplete, "":
		return s.actionComplete(ctx, claim, action)
	default:
		s.logger.Warn("unknown action type, defaulting to complete", "type", action.Type)
		return s.actionComplete(ctx, claim, action)
	}
}

// actionComplete reports the configured output.
func (s *Simulator) actionComplete(ctx context.Context, claim *engine.ClaimResult, action Action) error {
	output := s.getOutput(claim, action)
	res, err := s.client.Complete(ctx, claim.StepID, output)
	if err != nil {
		return fmt.Errorf("completing %s: %w", claim.StepID, err)
	}
	s.logger.Info("step completed",
		"step", claim.Step,
		"story", claim.StoryID,
		"run_completed", res.RunCompleted,
	)
	s.stats.Completed++
	return nil
}

// getOutput returns the output for this call. With OutputsSequence each call
// for the same step and story takes the next entry, repeating the last one.
func (s *Simulator) getOutput(claim *engine.ClaimResult, action Action) string {
	if len(action.OutputsSequence) == 0 {
		return action.Output
	}

	key := claim.RunID + "/" + claim.Step + "/" + claim.StoryID
	idx := s.sequenceCounts[key]
	s.sequenceCounts[key]++
	if idx >= len(action.OutputsSequence) {
		idx = len(action.OutputsSequence) - 1
	}
	return action.OutputsSequence[idx]
}

// actionFail reports a failed attempt.
func (s *Simulator) actionFail(ctx context.Context, claim *engine.ClaimResult, action Action, message string) error {
	if message == "" {
		message = action.FailMessage
	}
	if message == "" {
		message = "An error occurred"
	}
	res, err := s.client.Fail(ctx, claim.StepID, message)
	if err != nil {
		return fmt.Errorf("failing %s: %w", claim.StepID, err)
	}
	s.logger.Info("step failed", "step", claim.Step, "retrying", res.Retrying, "run_failed", res.RunFailed)
	s.stats.Failed++
	return nil
}

// actionFailThenSucceed fails FailCount times per step and story, then succeeds.
func (s *Simulator) actionFailThenSucceed(ctx context.Context, b *Behavior, claim *engine.ClaimResult, action Action) error {
	key := claim.RunID + "/" + b.Match + "/" + claim.StoryID
	s.attemptCounts[key]++
	attempt := s.attemptCounts[key]

	failCount := action.FailCount
	if failCount == 0 {
		failCount = 1
	}

	if attempt <= failCount {
		message := action.FailMessage
		if message == "" {
			message = fmt.Sprintf("Simulated failure (attempt %d/%d)", attempt, failCount)
		}
		return s.actionFail(ctx, claim, action, message)
	}

	delete(s.attemptCounts, key)
	return s.actionComplete(ctx, claim, action)
}
