package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/castleridge-io/clawdeck-sub002/internal/logging"
	"github.com/castleridge-io/clawdeck-sub002/internal/store"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// ReapAbandoned fails every step that has been running for longer than
// maxAge, as if its agent had reported AbandonedError. A non-positive maxAge
// uses the engine's threshold. It returns the number of steps reclaimed.
func (e *Engine) ReapAbandoned(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = e.abandonAfter
	}
	cutoff := e.clock.Now().Add(-maxAge)

	var stale []*types.Step
	if err := e.store.View(ctx, func(tx store.Tx) error {
		stale = tx.RunningStepsBefore(cutoff)
		return nil
	}); err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, c := range stale {
		var res *FailResult
		err := e.store.Update(ctx, func(tx store.Tx) error {
			step, err := tx.Step(c.ID)
			if err != nil {
				return err
			}
			// Completed or re-claimed since the scan.
			if step.Status != types.StepStatusRunning || !step.UpdatedAt.Before(cutoff) {
				return nil
			}
			run, err := tx.Run(step.RunID)
			if err != nil {
				return err
			}
			if run.Status != types.RunStatusRunning {
				return nil
			}
			if res, err = e.failStep(tx, run, step, AbandonedError, e.clock.Now()); err != nil {
				return err
			}
			return saveRun(tx, run)
		})
		if errors.Is(err, errConflict) {
			continue
		}
		if err != nil {
			return reclaimed, err
		}
		if res == nil {
			continue
		}
		reclaimed++
		logging.WithStep(e.logger, c.RunID, c.ID).Warn("reclaimed abandoned step",
			"step", c.StepID,
			"running_since", c.UpdatedAt,
			"retrying", res.Retrying,
			"run_failed", res.RunFailed,
		)
	}
	return reclaimed, nil
}

// Reaper periodically reclaims abandoned steps.
type Reaper struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper creates a reaper sweeping every interval (one minute if unset).
func NewReaper(e *Engine, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{engine: e, interval: interval, logger: e.logger.With("component", "reaper")}
}

// Run sweeps until ctx is cancelled. Sweep errors are logged and do not stop
// the loop.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("reaper starting", "interval", r.interval, "abandon_after", r.engine.abandonAfter)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shutting down", "reason", ctx.Err())
			return nil

		case <-ticker.C:
			n, err := r.engine.ReapAbandoned(ctx, r.engine.abandonAfter)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Info("sweep reclaimed steps", "count", n)
			}
		}
	}
}
