package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer spaces out consecutive listing loads.
type Pacer interface {
	Pause(ctx context.Context) error
}

// JitterPacer sleeps for a duration drawn uniformly from [min, max]. With
// min == max the pause is fixed.
type JitterPacer struct {
	minDelay time.Duration
	maxDelay time.Duration
	mu       sync.Mutex
	rnd      *rand.Rand
}

// NewJitterPacer creates a pacer. A negative min is treated as zero and a
// max below min as min.
func NewJitterPacer(minDelay, maxDelay time.Duration) *JitterPacer {
	p := &JitterPacer{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	p.setDelay(minDelay, maxDelay)
	return p
}

// Pause blocks for the next delay or until ctx is done.
func (p *JitterPacer) Pause(ctx context.Context) error {
	delay := p.nextDelay()
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *JitterPacer) setDelay(minDelay, maxDelay time.Duration) {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.minDelay = minDelay
	p.maxDelay = maxDelay
}

func (p *JitterPacer) bounds() (time.Duration, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minDelay, p.maxDelay
}

func (p *JitterPacer) nextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.minDelay == p.maxDelay {
		return p.minDelay
	}

	delta := p.maxDelay - p.minDelay
	return p.minDelay + time.Duration(p.rnd.Int63n(int64(delta)+1))
}
