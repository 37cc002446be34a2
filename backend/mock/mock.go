// Package mock provides a deterministic in-process backend for driving the
// router without network I/O.
package mock

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	orchestrator "github.com/MikhailMalorod/Multi-LLM-Orchestrator"
)

// Model names that select a simulated behavior.
const (
	ModelNormal         = "mock-normal"
	ModelTimeout        = "mock-timeout"
	ModelRateLimit      = "mock-ratelimit"
	ModelAuthError      = "mock-auth-error"
	ModelInvalidRequest = "mock-invalid-request"
	ModelUnhealthy      = "mock-unhealthy"
)

// Backend is a mock backend for testing. Its failure behavior is selected
// through the configured model name or overridden with options.
type Backend struct {
	cfg      orchestrator.BackendConfig
	response string
	latency  time.Duration
	err      error
	healthy  *bool

	streamFailAt int
	streamErr    error

	calls atomic.Int64
}

var _ orchestrator.Backend = (*Backend)(nil)

// Option configures a mock Backend.
type Option func(*Backend)

// WithResponse sets the text returned for every prompt.
func WithResponse(text string) Option {
	return func(b *Backend) { b.response = text }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithError makes every generate call return err, regardless of mode.
func WithError(err error) Option {
	return func(b *Backend) { b.err = err }
}

// WithHealthy overrides the health probe result.
func WithHealthy(ok bool) Option {
	return func(b *Backend) { b.healthy = &ok }
}

// WithStreamFailAt makes streams fail when asked for the n-th fragment
// (1-based), after having yielded the n-1 before it.
func WithStreamFailAt(n int) Option {
	return func(b *Backend) { b.streamFailAt = n }
}

// WithStreamError sets the error used by WithStreamFailAt. The default is
// ErrBackendUnavailable.
func WithStreamError(err error) Option {
	return func(b *Backend) { b.streamErr = err }
}

// New creates a mock backend.
func New(cfg orchestrator.BackendConfig, opts ...Option) *Backend {
	b := &Backend{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return b.cfg.Name }

// CallCount returns how many generate calls (sync or stream) were made.
func (b *Backend) CallCount() int64 { return b.calls.Load() }

func (b *Backend) Generate(ctx context.Context, prompt string, params *orchestrator.GenerationParams) (orchestrator.Response, error) {
	b.calls.Add(1)

	if err := b.wait(ctx); err != nil {
		return orchestrator.Response{}, err
	}
	if err := b.modeErr(); err != nil {
		return orchestrator.Response{}, err
	}

	text := b.responseFor(prompt, params)
	promptTokens := int64(orchestrator.EstimateTokensFallback(prompt))
	completionTokens := int64(orchestrator.EstimateTokensFallback(text))
	return orchestrator.Response{
		Text:  text,
		Model: b.model(),
		Usage: orchestrator.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

func (b *Backend) GenerateStream(ctx context.Context, prompt string, params *orchestrator.GenerationParams) (orchestrator.Stream, error) {
	b.calls.Add(1)

	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	if err := b.modeErr(); err != nil {
		return nil, err
	}

	text := b.responseFor(prompt, params)
	failErr := b.streamErr
	if failErr == nil {
		failErr = orchestrator.ErrBackendUnavailable
	}
	return &stream{
		// SplitAfter keeps the separators, so concatenating the fragments
		// reproduces the synchronous response byte for byte.
		fragments: strings.SplitAfter(text, " "),
		failAt:    b.streamFailAt,
		err:       failErr,
	}, nil
}

func (b *Backend) HealthCheck(_ context.Context) bool {
	if b.healthy != nil {
		return *b.healthy
	}
	return b.cfg.Model != ModelUnhealthy
}

func (b *Backend) model() string {
	if b.cfg.Model == "" {
		return ModelNormal
	}
	return b.cfg.Model
}

func (b *Backend) modeErr() error {
	if b.err != nil {
		return b.err
	}
	switch b.cfg.Model {
	case ModelTimeout:
		return orchestrator.ErrTimeout
	case ModelRateLimit:
		return orchestrator.ErrRateLimited
	case ModelAuthError:
		return orchestrator.ErrAuthFailed
	case ModelInvalidRequest:
		return orchestrator.ErrInvalidRequest
	}
	return nil
}

func (b *Backend) wait(ctx context.Context) error {
	if b.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(b.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) responseFor(prompt string, params *orchestrator.GenerationParams) string {
	if b.response != "" {
		return b.response
	}
	text := fmt.Sprintf("Mock response to: %s", prompt)
	if params != nil && params.MaxTokens > 0 {
		words := strings.SplitAfter(text, " ")
		if len(words) > params.MaxTokens {
			text = strings.Join(words[:params.MaxTokens], "")
		}
	}
	return text
}

type stream struct {
	fragments []string
	failAt    int
	err       error
	pos       int
}

func (s *stream) Next() (string, error) {
	if s.failAt > 0 && s.pos == s.failAt-1 {
		return "", s.err
	}
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	frag := s.fragments[s.pos]
	s.pos++
	return frag, nil
}

func (s *stream) Close() error { return nil }
