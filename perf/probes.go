package perf

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Simulation defaults stand in for a real renderer integration: they
// produce plausible, slightly jittered values so downstream consumers
// (UI gauges, the NATS relay) have realistic data to work with.

var (
	simMu   sync.Mutex
	simRand = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// jitter returns base scaled by a random factor in [1-spread, 1+spread].
func jitter(base, spread float64) float64 {
	simMu.Lock()
	defer simMu.Unlock()
	return base * (1 + spread*(2*simRand.Float64()-1))
}

func defaultProbes() Probes {
	return Probes{
		RenderTime: func(context.Context) (time.Duration, error) {
			return time.Duration(jitter(float64(16*time.Millisecond), 0.4)), nil
		},
		LoadTime: func(context.Context) (time.Duration, error) {
			return time.Duration(jitter(float64(800*time.Millisecond), 0.2)), nil
		},
		FPS: func(context.Context) (float64, error) {
			return jitter(60, 0.1), nil
		},
		ComponentCount: func(context.Context) (int, error) {
			return int(jitter(24, 0.25)), nil
		},
		BundleSize: func(context.Context) (uint64, error) {
			return uint64(jitter(512*1024, 0.1)), nil
		},
	}
}
