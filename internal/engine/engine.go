// Package engine drives workflow runs: it hands steps to polling agents,
// applies their results, fans loop steps out over stories, and reclaims
// abandoned work.
//
// Every operation is one short store transaction. Moves out of a status are
// conditional writes against the status that was read, so two callers can
// never both win the same pending step or story.
package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/castleridge-io/clawdeck-sub002/internal/config"
	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/store"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// AbandonedError is the failure recorded when the reaper reclaims a step.
const AbandonedError = "abandoned: exceeded time budget"

// verifyFeedbackKey holds the last verifier complaint in the run context.
const verifyFeedbackKey = "verify_feedback"

// noFeedback is the verify_feedback value when there is nothing to report.
const noFeedback = "(none)"

// errConflict marks a conditional write that lost to a concurrent change.
var errConflict = errors.New("status changed concurrently")

// TemplateSource provides read-only workflow templates.
type TemplateSource interface {
	Get(id string) (*types.WorkflowTemplate, error)
	List() []*types.WorkflowTemplate
}

// Options tunes an Engine. Zero values take defaults.
type Options struct {
	// AbandonAfter is how long a step may stay running before it is reclaimed.
	AbandonAfter time.Duration
	// StepMaxRetries is the retry budget of steps whose spec sets none.
	StepMaxRetries int
	// StoryMaxRetries is the retry budget of every story.
	StoryMaxRetries int

	Clock  Clock
	Logger *slog.Logger
}

// OptionsFromConfig maps the engine section of cfg to Options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		AbandonAfter:    cfg.Engine.AbandonAfter,
		StepMaxRetries:  cfg.Engine.DefaultMaxRetries,
		StoryMaxRetries: cfg.Engine.StoryMaxRetries,
		Logger:          logger,
	}
}

// Engine implements the step lifecycle over a Store.
type Engine struct {
	store     store.Store
	templates TemplateSource
	clock     Clock
	logger    *slog.Logger

	abandonAfter    time.Duration
	stepMaxRetries  int
	storyMaxRetries int
}

// New creates an Engine. Negative retry budgets are treated as zero.
func New(st store.Store, templates TemplateSource, opts Options) *Engine {
	if opts.AbandonAfter <= 0 {
		opts.AbandonAfter = 15 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		store:           st,
		templates:       templates,
		clock:           opts.Clock,
		logger:          opts.Logger,
		abandonAfter:    opts.AbandonAfter,
		stepMaxRetries:  max(opts.StepMaxRetries, 0),
		storyMaxRetries: max(opts.StoryMaxRetries, 0),
	}
}

// AbandonAfter returns the configured abandonment threshold.
func (e *Engine) AbandonAfter() time.Duration {
	return e.abandonAfter
}

// Templates returns the template source the engine instantiates runs from.
func (e *Engine) Templates() TemplateSource {
	return e.templates
}

// ClaimResult is the answer to an agent poll. Found is false when there is
// no work; that is not an error.
type ClaimResult struct {
	Found  bool   `json:"found"`
	StepID string `json:"step_id,omitempty"`
	RunID  string `json:"run_id,omitempty"`
	// Step is the template step id, e.g. "implement".
	Step    string `json:"step,omitempty"`
	Input   string `json:"input,omitempty"`
	StoryID string `json:"story_id,omitempty"`
	// FreshSession asks the agent to start a new session for this story.
	FreshSession bool `json:"fresh_session,omitempty"`
}

// CompleteResult reports what a completion finished. StepCompleted is true
// only when the step itself reached completed; a story handed back to its
// loop leaves it false.
type CompleteResult struct {
	StepCompleted bool `json:"step_completed"`
	RunCompleted  bool `json:"run_completed"`
	// RunFailed is set when a verify rejection exhausted a story's retries.
	RunFailed      bool `json:"run_failed,omitempty"`
	StoriesCreated int  `json:"stories_created,omitempty"`
	// Warnings lists recoverable problems, such as a malformed story block.
	Warnings []string `json:"warnings,omitempty"`
}

// FailResult reports how a failure was absorbed.
type FailResult struct {
	Retrying  bool `json:"retrying"`
	RunFailed bool `json:"run_failed"`
}

// RunDetail is a run with all its steps and stories.
type RunDetail struct {
	Run     *types.Run     `json:"run"`
	Steps   []*types.Step  `json:"steps"`
	Stories []*types.Story `json:"stories,omitempty"`
}

// moveStep transitions s to target and writes it conditionally on the status
// it had before.
func moveStep(tx store.Tx, s *types.Step, target types.StepStatus, now time.Time) error {
	from := s.Status
	if err := s.Transition(target, now); err != nil {
		return err
	}
	ok, err := tx.UpdateStep(s, from)
	if err != nil {
		return err
	}
	if !ok {
		return deckerrors.Wrap(deckerrors.CodeInvalidTransition, "step "+s.ID+" was modified concurrently", errConflict)
	}
	return nil
}

// moveStory transitions s to target and writes it conditionally.
func moveStory(tx store.Tx, s *types.Story, target types.StoryStatus, now time.Time) error {
	from := s.Status
	if err := s.Transition(target, now); err != nil {
		return err
	}
	ok, err := tx.UpdateStory(s, from)
	if err != nil {
		return err
	}
	if !ok {
		return deckerrors.Wrap(deckerrors.CodeInvalidTransition, "story "+s.ID+" was modified concurrently", errConflict)
	}
	return nil
}

// saveRun writes run, which must still be running in the store.
func saveRun(tx store.Tx, run *types.Run) error {
	ok, err := tx.UpdateRun(run, types.RunStatusRunning)
	if err != nil {
		return err
	}
	if !ok {
		return deckerrors.Wrap(deckerrors.CodeInvalidTransition, "run "+run.ID+" was modified concurrently", errConflict)
	}
	return nil
}

// activeRun loads a run and checks it still accepts work.
func activeRun(tx store.Tx, runID string) (*types.Run, error) {
	run, err := tx.Run(runID)
	if err != nil {
		return nil, err
	}
	if run.Status != types.RunStatusRunning {
		return nil, deckerrors.RunNotActive(run.ID, string(run.Status))
	}
	return run, nil
}
