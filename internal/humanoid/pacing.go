// Package humanoid paces requests so traffic rhythm resembles a person
// browsing rather than a tight polling loop. Delays are drawn from smoothed
// Perlin noise: successive waits correlate the way human attention does,
// instead of the independent uniform jitter that timing analysis flags.
package humanoid

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"

	"github.com/korvuslabs/prowl/internal/config"
)

// Pacer produces think-time delays between platform requests.
type Pacer struct {
	mu    sync.Mutex
	noise *perlin.Perlin
	rng   *rand.Rand
	t     float64

	min time.Duration
	max time.Duration
}

// New builds a pacer tuned to the stealth level. At StealthNone the pacer
// is a no-op; basic waits a short beat; aggressive adds longer, wandering
// pauses.
func New(level config.StealthLevel, seed int64) *Pacer {
	alpha, beta, n := 2.0, 2.0, int32(3)
	p := &Pacer{
		noise: perlin.NewPerlin(alpha, beta, n, seed),
		rng:   rand.New(rand.NewSource(seed)),
	}
	switch level {
	case config.StealthAggressive:
		p.min, p.max = 800*time.Millisecond, 4*time.Second
	case config.StealthBasic:
		p.min, p.max = 200*time.Millisecond, time.Second
	default:
		// StealthNone: min == max == 0, Wait returns immediately.
	}
	return p
}

// Next returns the upcoming think-time delay and advances the noise cursor.
func (p *Pacer) Next() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.max == 0 {
		return 0
	}
	// Noise1D is in roughly [-1, 1]; fold it into [0, 1] and stretch across
	// the configured band. A small random step size keeps the walk through
	// noise space from ever being periodic.
	p.t += 0.1 + p.rng.Float64()*0.15
	v := (p.noise.Noise1D(p.t) + 1) / 2
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return p.min + time.Duration(v*float64(p.max-p.min))
}

// Wait blocks for the next think-time delay or until ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	d := p.Next()
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
