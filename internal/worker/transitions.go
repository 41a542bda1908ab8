package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/brand-monitor/internal/metrics"
	"github.com/JakeFAU/brand-monitor/internal/monitor"
)

func (w *Worker) complete(ctx context.Context, job monitor.Job, log *zap.Logger) monitor.StepResult {
	done, err := w.deps.Store.CompleteJob(ctx, job.ID, job.LeaseID, w.deps.Clock.Now())
	if err != nil {
		log.Error("complete job failed", zap.Error(err))
		return w.errorResult(ctx, job, err)
	}
	if !done {
		// The current holder, or StopScan, owns the counter.
		log.Warn("lease lost before completion")
		return w.errorResult(ctx, job, errLeaseLost)
	}
	metrics.ObserveJobTransition(string(monitor.JobStatusCompleted))
	log.Info("job completed")
	w.countTerminal(ctx, job, log)
	return w.processed(ctx, job)
}

func (w *Worker) retryOrFail(ctx context.Context, job monitor.Job, cause error, log *zap.Logger) monitor.StepResult {
	status, err := w.deps.Store.RetryOrFailJob(ctx, job.ID, job.LeaseID, cause.Error(), w.cfg.MaxRetries, w.deps.Clock.Now())
	switch {
	case err != nil:
		log.Error("record job failure failed", zap.NamedError("cause", cause), zap.Error(err))
	case status == monitor.JobStatusPending:
		metrics.ObserveJobTransition("retried")
		log.Warn("job failed; will retry", zap.Int("retry_count", job.RetryCount+1), zap.Error(cause))
	case status == monitor.JobStatusFailed:
		metrics.ObserveJobTransition(string(monitor.JobStatusFailed))
		log.Error("job failed permanently", zap.Int("retry_count", job.RetryCount), zap.Error(cause))
		w.countTerminal(ctx, job, log)
	default:
		log.Warn("lease lost before failure was recorded", zap.Error(cause))
	}
	return w.errorResult(ctx, job, cause)
}

// release hands a job interrupted by caller cancellation back to the queue.
func (w *Worker) release(ctx context.Context, job monitor.Job, cause error, log *zap.Logger) monitor.StepResult {
	ok, err := w.deps.Store.ReleaseJob(ctx, job.ID, job.LeaseID, cause.Error())
	switch {
	case err != nil:
		log.Error("release job failed", zap.NamedError("cause", cause), zap.Error(err))
	case ok:
		metrics.ObserveJobTransition("released")
		log.Info("job released after cancellation", zap.Error(cause))
	default:
		log.Warn("lease lost before release", zap.Error(cause))
	}
	return w.errorResult(ctx, job, cause)
}

// countTerminal bumps the scan counter for a job that reached a terminal
// state and re-runs the completion check.
func (w *Worker) countTerminal(ctx context.Context, job monitor.Job, log *zap.Logger) {
	scan, err := w.deps.Store.IncrementCompleted(ctx, job.ScanID)
	if err != nil {
		log.Error("increment scan counter failed", zap.Error(err))
		return
	}
	log.Debug("scan progress", zap.Int("completed_tasks", scan.CompletedTasks), zap.Int("total_tasks", scan.TotalTasks))
	if _, err := w.deps.Completion.CheckCompletion(ctx, job.ScanID); err != nil {
		log.Warn("completion check failed", zap.Error(err))
	}
}

func (w *Worker) pending(ctx context.Context) int {
	n, err := w.deps.Store.CountPending(ctx)
	if err != nil {
		w.logger.Warn("count pending jobs failed", zap.Error(err))
		return 0
	}
	return n
}

func (w *Worker) processed(ctx context.Context, job monitor.Job) monitor.StepResult {
	return monitor.StepResult{
		Status:       monitor.StepProcessed,
		PendingCount: w.pending(ctx),
		JobID:        job.ID,
		ScanID:       job.ScanID,
	}
}

func (w *Worker) errorResult(ctx context.Context, job monitor.Job, err error) monitor.StepResult {
	if job.ID == "" {
		w.logger.Error("worker step failed", zap.Error(err))
	}
	return monitor.StepResult{
		Status:       monitor.StepError,
		PendingCount: w.pending(ctx),
		JobID:        job.ID,
		ScanID:       job.ScanID,
		Error:        err.Error(),
	}
}
