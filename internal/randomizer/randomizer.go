// Package randomizer converts nominal scheduling intervals into jittered
// ones so recurring fetches do not fire on a predictable cadence.
package randomizer

import (
	"math/rand"
	"sync"
	"time"
)

// Strategy names accepted by NextInterval.
const (
	StrategyUniform = "uniform"
	StrategyPoisson = "poisson"
	StrategyNormal  = "normal"
)

// Default bounds for each strategy.
const (
	DefaultMinFactor = 0.7
	DefaultMaxFactor = 1.3

	poissonMinFactor = 0.5
	poissonMaxFactor = 2.0

	normalStdDevRatio = 0.2
	normalMinFactor   = 0.5
	normalMaxFactor   = 1.5
)

// Randomizer draws randomized intervals around a base interval.
// It is safe for concurrent use.
type Randomizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Randomizer seeded from the current time.
func New() *Randomizer {
	return NewWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewWithSource creates a Randomizer with an explicit source.
// Tests use this for deterministic draws.
func NewWithSource(src rand.Source) *Randomizer {
	return &Randomizer{rng: rand.New(src)}
}

// Uniform scales base by a uniform random factor in [minFactor, maxFactor].
func (r *Randomizer) Uniform(base time.Duration, minFactor, maxFactor float64) time.Duration {
	if minFactor > maxFactor {
		minFactor, maxFactor = maxFactor, minFactor
	}
	r.mu.Lock()
	f := minFactor + r.rng.Float64()*(maxFactor-minFactor)
	r.mu.Unlock()
	return clamp(scale(base, f), scale(base, minFactor), scale(base, maxFactor))
}

// Poisson draws an exponentially distributed interval with the given mean,
// modeling the inter-arrival time of a Poisson process, clamped to
// [mean*0.5, mean*2.0].
func (r *Randomizer) Poisson(mean time.Duration) time.Duration {
	r.mu.Lock()
	draw := r.rng.ExpFloat64() // mean 1.0
	r.mu.Unlock()
	return clamp(scale(mean, draw), scale(mean, poissonMinFactor), scale(mean, poissonMaxFactor))
}

// Normal draws a normally distributed interval centered on mean with a
// standard deviation of mean*0.2, clamped to [mean*0.5, mean*1.5].
func (r *Randomizer) Normal(mean time.Duration) time.Duration {
	r.mu.Lock()
	draw := 1.0 + r.rng.NormFloat64()*normalStdDevRatio
	r.mu.Unlock()
	return clamp(scale(mean, draw), scale(mean, normalMinFactor), scale(mean, normalMaxFactor))
}

// NextInterval dispatches to the named strategy. Unknown strategy names
// fall back to uniform with the default factors.
func (r *Randomizer) NextInterval(base time.Duration, strategy string) time.Duration {
	switch strategy {
	case StrategyPoisson:
		return r.Poisson(base)
	case StrategyNormal:
		return r.Normal(base)
	default:
		return r.Uniform(base, DefaultMinFactor, DefaultMaxFactor)
	}
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}

// clamp bounds d to [lo, hi] and guarantees a positive result so a
// degenerate draw can never stall the schedule.
func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		d = lo
	}
	if d > hi {
		d = hi
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
