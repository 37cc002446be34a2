package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Router dispatches generation requests across registered backends. A
// strategy picks where each call starts; failed attempts fall back through
// the remaining backends in circular registration order, and every attempt
// is recorded in the per-backend ledger.
type Router struct {
	mu       sync.RWMutex
	backends []Backend
	metrics  map[string]*BackendMetrics

	strategy Strategy
	meter    Meter
}

// Option configures a Router.
type Option func(*Router)

// WithStrategy sets the selection strategy. The default is round-robin.
func WithStrategy(s Strategy) Option {
	return func(r *Router) { r.strategy = s }
}

// WithMeter sets the meter observing routing events.
func WithMeter(m Meter) Option {
	return func(r *Router) { r.meter = m }
}

// New creates a Router. Backends are added afterwards via Register.
func New(opts ...Option) *Router {
	r := &Router{
		metrics: make(map[string]*BackendMetrics),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.strategy == nil {
		r.strategy = NewRoundRobin()
	}
	if r.meter == nil {
		r.meter = noopMeter{}
	}
	return r
}

// NewFromConfig creates a Router using the strategy and probe timeout from
// cfg. Backends described by cfg are constructed by the caller and added
// via Register.
func NewFromConfig(cfg Config, opts ...Option) (*Router, error) {
	name := cfg.Strategy
	if name == "" {
		name = StrategyRoundRobin
	}
	strat, err := ParseStrategy(name)
	if err != nil {
		return nil, err
	}
	if fa, ok := strat.(*FirstAvailable); ok && cfg.ProbeTimeout > 0 {
		fa.ProbeTimeout = cfg.ProbeTimeout
	}
	return New(append([]Option{WithStrategy(strat)}, opts...)...), nil
}

// Register adds a backend. Names must be unique; registering a duplicate
// is a configuration error.
func (r *Router) Register(b Backend) error {
	name := b.Name()
	if name == "" {
		return fmt.Errorf("orchestrator: backend name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.metrics[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateBackend, name)
	}
	r.backends = append(r.backends, b)
	r.metrics[name] = NewBackendMetrics()
	return nil
}

// Metrics returns a read-only copy of every ledger entry, keyed by backend
// name.
func (r *Router) Metrics() map[string]MetricsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]MetricsSnapshot, len(r.metrics))
	for name, m := range r.metrics {
		out[name] = m.Snapshot()
	}
	return out
}

// Generate dispatches a synchronous completion. The strategy picks a
// starting backend; on failure the next backends are tried in circular
// order. When every backend fails, the last error is surfaced.
func (r *Router) Generate(ctx context.Context, prompt string, params *GenerationParams) (Response, error) {
	p, err := resolveParams(params)
	if err != nil {
		return Response{}, err
	}

	candidates := r.candidates()
	if len(candidates) == 0 {
		return Response{}, ErrNoBackends
	}

	start := r.strategy.Select(ctx, candidates)

	n := len(candidates)
	var lastErr error
	var lastName, lastModel string

	for attempt := 0; attempt < n; attempt++ {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}

		c := candidates[(start+attempt)%n]
		attemptID := uuid.New().String()
		r.meter.OnRoute(RouteEvent{
			AttemptID: attemptID,
			Backend:   c.Name,
			Attempt:   attempt + 1,
		})

		began := time.Now()
		resp, err := c.Backend.Generate(ctx, prompt, &p)
		elapsed := time.Since(began)
		latencyMS := float64(elapsed.Microseconds()) / 1000.0

		ledger := r.ledgerFor(c.Name)
		if err != nil {
			// A caller cancellation is not the backend's fault; leave the
			// ledger alone.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Response{}, ctxErr
			}
			ledger.RecordError(latencyMS, time.Now())
			r.meter.OnResult(ResultEvent{
				AttemptID: attemptID,
				Backend:   c.Name,
				Attempt:   attempt + 1,
				Duration:  elapsed,
				Error:     err,
			})
			lastErr, lastName, lastModel = err, c.Name, resp.Model
			continue
		}

		usage := normalizeUsage(resp.Usage)
		cost := CalculateCost(c.Name, resp.Model, usage.TotalTokens)
		ledger.RecordSuccess(latencyMS, usage.PromptTokens, usage.CompletionTokens, cost)
		r.meter.OnResult(ResultEvent{
			AttemptID: attemptID,
			Backend:   c.Name,
			Model:     resp.Model,
			Attempt:   attempt + 1,
			Success:   true,
			Duration:  elapsed,
			Usage:     usage,
			Cost:      cost,
		})

		resp.Usage = usage
		resp.Routing = RoutingInfo{
			Backend:  c.Name,
			Model:    resp.Model,
			Attempts: attempt + 1,
			Cost:     cost,
		}
		return resp, nil
	}

	if lastErr != nil {
		return Response{}, &DispatchError{
			Err:      lastErr,
			Backend:  lastName,
			Model:    lastModel,
			Attempts: n,
		}
	}
	return Response{}, ErrAllFailed
}

// GenerateStream dispatches a streaming completion. Backends that fail to
// open, or that fail before their first fragment is forwarded, fall back
// exactly like Generate; once any fragment has been delivered the stream
// is pinned to its backend and a later failure propagates to the caller.
func (r *Router) GenerateStream(ctx context.Context, prompt string, params *GenerationParams) (*RouterStream, error) {
	p, err := resolveParams(params)
	if err != nil {
		return nil, err
	}

	candidates := r.candidates()
	if len(candidates) == 0 {
		return nil, ErrNoBackends
	}

	start := r.strategy.Select(ctx, candidates)
	n := len(candidates)
	ordered := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		ordered = append(ordered, candidates[(start+i)%n])
	}

	s := &RouterStream{
		router:     r,
		ctx:        ctx,
		prompt:     prompt,
		params:     p,
		candidates: ordered,
	}
	if err := s.advance(); err != nil {
		return nil, err
	}
	return s, nil
}

// candidates snapshots the registered backends and their ledgers in
// registration order.
func (r *Router) candidates() []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Candidate, len(r.backends))
	for i, b := range r.backends {
		name := b.Name()
		out[i] = Candidate{
			Backend: b,
			Name:    name,
			Metrics: r.metrics[name].Snapshot(),
		}
	}
	return out
}

func (r *Router) ledgerFor(name string) *BackendMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// normalizeUsage fills TotalTokens when the backend reported only the
// parts.
func normalizeUsage(u Usage) Usage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}
