package driver

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Runner is anything that drains the queue once.
type Runner interface {
	Run(ctx context.Context) LoopResult
}

// Background fires a Runner without blocking the caller. At most one run is
// in flight per Background; extra kicks while running are dropped since the
// running pool will pick up the new jobs anyway.
type Background struct {
	runner  Runner
	base    context.Context
	running atomic.Bool
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// NewBackground constructs a Background whose runs inherit base, so they
// outlive the request that kicked them and stop on shutdown.
func NewBackground(base context.Context, runner Runner, logger *zap.Logger) *Background {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Background{runner: runner, base: base, logger: logger.Named("background")}
}

// Kick starts a run unless one is already going and reports whether it did.
func (b *Background) Kick() bool {
	if !b.running.CompareAndSwap(false, true) {
		b.logger.Debug("background run already in flight")
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.running.Store(false)
		res := b.runner.Run(b.base)
		b.logger.Info("background run finished",
			zap.String("reason", string(res.StopReason)),
			zap.Int("processed", res.Processed),
			zap.Int("pending", res.PendingCount),
		)
	}()
	return true
}

// Running reports whether a run is in flight.
func (b *Background) Running() bool {
	return b.running.Load()
}

// Wait blocks until the in-flight run, if any, returns.
func (b *Background) Wait() {
	b.wg.Wait()
}
