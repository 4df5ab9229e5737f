package enrich

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Pacer spaces provider calls. It speeds up by 20% per success, up to
// twice the initial rate, and halves on a rate-limit response, down to a
// quarter of it.
type Pacer struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewPacer creates a Pacer allowing perSecond calls with a burst of one.
func NewPacer(perSecond float64) *Pacer {
	r := rate.Limit(perSecond)
	return &Pacer{
		limiter:     rate.NewLimiter(r, 1),
		maxRate:     r * 2,
		minRate:     r / 4,
		currentRate: r,
	}
}

// Wait blocks until the next call may start.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Rate returns the current calls per second.
func (p *Pacer) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.currentRate)
}

// OnSuccess raises the rate.
func (p *Pacer) OnSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(min(p.currentRate*1.2, p.maxRate))
}

// OnRateLimit halves the rate.
func (p *Pacer) OnRateLimit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(max(p.currentRate*0.5, p.minRate))
	zap.L().Warn("enrich: provider rate limit, slowing down",
		zap.Float64("new_rate", float64(p.currentRate)),
	)
}

func (p *Pacer) set(r rate.Limit) {
	p.currentRate = r
	p.limiter.SetLimit(r)
}
