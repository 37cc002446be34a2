package orchestrator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"
)

// Strategy names accepted by ParseStrategy and the config file.
const (
	StrategyRoundRobin     = "round-robin"
	StrategyRandom         = "random"
	StrategyFirstAvailable = "first-available"
	StrategyBestAvailable  = "best-available"
)

// Candidate pairs a registered backend with a ledger snapshot taken at
// selection time. The slice passed to a Strategy is always in registration
// order.
type Candidate struct {
	Backend Backend
	Name    string
	Metrics MetricsSnapshot
}

// Strategy picks the starting index for a dispatch. The Router then tries
// candidates in circular order from that index; strategies never exclude a
// backend, they only choose where the fallback sequence begins.
type Strategy interface {
	Select(ctx context.Context, candidates []Candidate) int
}

// ParseStrategy returns the strategy registered under name. Unknown names
// are a configuration error.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case StrategyRoundRobin:
		return NewRoundRobin(), nil
	case StrategyRandom:
		return &Random{}, nil
	case StrategyFirstAvailable:
		return &FirstAvailable{}, nil
	case StrategyBestAvailable:
		return &BestAvailable{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// RoundRobin cycles through backends in registration order. The cursor
// advances exactly once per top-level call, so the next call starts one
// position further even when the previous call fell back past it.
type RoundRobin struct {
	cursor atomic.Uint64
}

// NewRoundRobin returns a RoundRobin with the cursor at the first backend.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (s *RoundRobin) Select(_ context.Context, candidates []Candidate) int {
	n := s.cursor.Add(1) - 1
	return int(n % uint64(len(candidates)))
}

// Random picks uniformly among all registered backends.
type Random struct{}

func (Random) Select(_ context.Context, candidates []Candidate) int {
	return rand.Intn(len(candidates))
}

// DefaultProbeTimeout bounds a single health probe during selection. It is
// deliberately shorter than generation timeouts: a hung probe must not
// stall routing.
const DefaultProbeTimeout = 2 * time.Second

// FirstAvailable probes backends in registration order and picks the first
// one reporting healthy. When nothing does, the first backend is returned
// anyway and the fallback loop still tries them all.
type FirstAvailable struct {
	// ProbeTimeout bounds each HealthCheck call. Zero means
	// DefaultProbeTimeout.
	ProbeTimeout time.Duration
}

func (s *FirstAvailable) Select(ctx context.Context, candidates []Candidate) int {
	timeout := s.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	for i, c := range candidates {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		ok := c.Backend.HealthCheck(probeCtx)
		cancel()
		if ok {
			return i
		}
	}
	return 0
}

// BestAvailable picks the backend with the lowest latency score: the
// rolling average when the window has samples, the all-time average
// otherwise, zero with no data at all. Unhealthy backends stay eligible;
// their latency is the only thing held against them. Ties go to the lower
// registration index.
type BestAvailable struct{}

func (BestAvailable) Select(_ context.Context, candidates []Candidate) int {
	best := 0
	bestScore := math.Inf(1)
	for i, c := range candidates {
		score := 0.0
		if c.Metrics.HasRollingAvg {
			score = c.Metrics.RollingAvgLatencyMS
		} else if c.Metrics.SuccessfulRequests > 0 {
			score = c.Metrics.AvgLatencyMS
		}
		if score < bestScore {
			best, bestScore = i, score
		}
	}
	return best
}
