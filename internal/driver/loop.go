// Package driver contains the thin callers of the worker step: a budgeted
// loop, a pool of concurrent loops, a fire-and-forget background runner and
// the cron scheduler.
package driver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

// StopReason explains why a loop returned.
type StopReason string

// Loop stop reasons.
const (
	StopDrained  StopReason = "drained"
	StopBudget   StopReason = "budget"
	StopCanceled StopReason = "canceled"
)

// Stepper runs one worker step.
type Stepper interface {
	ProcessOneJob(ctx context.Context) monitor.StepResult
}

// LoopResult summarizes one loop run.
type LoopResult struct {
	Steps        int        `json:"steps"`
	Processed    int        `json:"processed"`
	Errors       int        `json:"errors"`
	PendingCount int        `json:"pending_count"`
	StopReason   StopReason `json:"stop_reason"`
}

func (r *LoopResult) add(o LoopResult) {
	r.Steps += o.Steps
	r.Processed += o.Processed
	r.Errors += o.Errors
	r.PendingCount = max(r.PendingCount, o.PendingCount)
}

// LoopConfig bounds a loop.
type LoopConfig struct {
	// StepDelay is slept between consecutive steps.
	StepDelay time.Duration
	// Budget is the wall-clock allowance checked before each step.
	Budget time.Duration
}

// Loop repeatedly invokes the step until the queue drains or the budget is spent.
type Loop struct {
	step   Stepper
	cfg    LoopConfig
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *zap.Logger
}

// NewLoop constructs a Loop.
func NewLoop(step Stepper, cfg LoopConfig, logger *zap.Logger) *Loop {
	if cfg.Budget <= 0 {
		cfg.Budget = 4 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{step: step, cfg: cfg, now: time.Now, sleep: sleepCtx, logger: logger.Named("loop")}
}

// Run steps until the queue has no pending jobs, the budget is exhausted or
// ctx ends. A budget stop leaves remaining work for the next invocation.
func (l *Loop) Run(ctx context.Context) LoopResult {
	deadline := l.now().Add(l.cfg.Budget)
	var res LoopResult
	for {
		if ctx.Err() != nil {
			res.StopReason = StopCanceled
			break
		}
		if !l.now().Before(deadline) {
			res.StopReason = StopBudget
			break
		}
		step := l.step.ProcessOneJob(ctx)
		res.Steps++
		res.PendingCount = step.PendingCount
		switch step.Status {
		case monitor.StepProcessed:
			res.Processed++
		case monitor.StepError:
			res.Errors++
		case monitor.StepNoJobs:
			if step.PendingCount == 0 {
				res.StopReason = StopDrained
			}
		}
		if res.StopReason != "" {
			break
		}
		if err := l.sleep(ctx, l.cfg.StepDelay); err != nil {
			res.StopReason = StopCanceled
			break
		}
	}
	l.logger.Debug("loop finished",
		zap.String("reason", string(res.StopReason)),
		zap.Int("steps", res.Steps),
		zap.Int("processed", res.Processed),
		zap.Int("errors", res.Errors),
		zap.Int("pending", res.PendingCount),
	)
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
