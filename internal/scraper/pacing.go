package scraper

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// DelayRange is an inclusive [Min, Max] pause.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Seconds builds a DelayRange from fractional seconds, as configured.
func Seconds(min, max float64) DelayRange {
	return DelayRange{
		Min: time.Duration(min * float64(time.Second)),
		Max: time.Duration(max * float64(time.Second)),
	}
}

// Pacer spaces out network-visible actions so the session browses at a
// human cadence. It is not safe for concurrent use; a crawl is sequential.
type Pacer struct {
	limiter *rate.Limiter
	rand    func() float64
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPacer returns a pacer; requestsPerMinute <= 0 disables the ceiling.
func NewPacer(requestsPerMinute int) *Pacer {
	p := &Pacer{
		rand:  rand.Float64,
		sleep: sleepContext,
	}
	if requestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return p
}

// Pace suspends the caller for a uniformly random duration in r. It returns
// ctx.Err() if the run is interrupted while waiting.
func (p *Pacer) Pace(ctx context.Context, r DelayRange) error {
	return p.sleep(ctx, p.Duration(r))
}

// Duration draws the next delay from r without sleeping.
func (p *Pacer) Duration(r DelayRange) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	span := float64(r.Max - r.Min)
	return r.Min + time.Duration(p.rand()*span)
}

// Wait blocks until the requests-per-minute ceiling admits one more
// navigation. Without a ceiling it only checks for cancellation.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
