package ai

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/brand-monitor/internal/metrics"
)

// Pacer enforces a fixed minimum delay between consecutive AI calls. The
// provider rejects requests outright above its quota, so a single pacer is
// shared by every caller in the process.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a Pacer allowing one call per delay. A non-positive
// delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Pacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next call may be issued or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ai pacing wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveAIPacing(waited)
	}
	return nil
}
