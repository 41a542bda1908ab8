package driver

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pool runs several loops against the same step concurrently. The claim
// protocol keeps them from processing the same job.
type Pool struct {
	loop        *Loop
	concurrency int
	logger      *zap.Logger
}

// NewPool constructs a Pool of concurrency loops.
func NewPool(loop *Loop, concurrency int, logger *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{loop: loop, concurrency: concurrency, logger: logger.Named("pool")}
}

// Run starts every loop and waits for all of them. The combined stop
// reason is drained only when some loop observed an empty queue.
func (p *Pool) Run(ctx context.Context) LoopResult {
	var (
		mu    sync.Mutex
		total LoopResult
	)
	reasons := make(map[StopReason]int, 3)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		g.Go(func() error {
			res := p.loop.Run(gctx)
			mu.Lock()
			defer mu.Unlock()
			total.add(res)
			reasons[res.StopReason]++
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case reasons[StopDrained] > 0:
		total.StopReason = StopDrained
	case reasons[StopCanceled] > 0:
		total.StopReason = StopCanceled
	default:
		total.StopReason = StopBudget
	}
	p.logger.Info("pool finished",
		zap.Int("loops", p.concurrency),
		zap.String("reason", string(total.StopReason)),
		zap.Int("processed", total.Processed),
		zap.Int("errors", total.Errors),
	)
	return total
}
