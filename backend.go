package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// Backend is the interface every upstream generation service implements.
// The Router never inspects the concrete type behind it.
type Backend interface {
	// Name returns the unique backend identifier used as the ledger key.
	Name() string

	// Generate performs a single synchronous completion.
	Generate(ctx context.Context, prompt string, params *GenerationParams) (Response, error)

	// GenerateStream opens a one-shot stream of text fragments. It returns
	// an error without opening a stream when the backend is unreachable;
	// errors after that surface from Stream.Next.
	GenerateStream(ctx context.Context, prompt string, params *GenerationParams) (Stream, error)

	// HealthCheck is a cheap liveness probe. It never panics; any internal
	// failure reports false.
	HealthCheck(ctx context.Context) bool
}

// Stream yields the fragments of a single generation. Next returns io.EOF
// after the final fragment. Streams are finite and not restartable.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Backend configuration bounds and defaults.
const (
	MinTimeout        = 1 * time.Second
	MaxTimeout        = 300 * time.Second
	DefaultTimeout    = 30 * time.Second
	MaxRetriesLimit   = 10
	DefaultMaxRetries = 3
)

// BackendConfig is the immutable per-backend configuration. Treat values as
// read-only after construction.
type BackendConfig struct {
	// Name uniquely identifies the backend; it keys the ledger and pricing
	// family lookup, and duplicate registrations are rejected by it.
	Name string

	// Model is the upstream model identifier. Concrete backends fall back
	// to their own default when empty.
	Model string

	// APIKey carries the credential for backends that need one.
	APIKey string

	// Scope is the OAuth scope for backends with a token handshake.
	Scope string

	// FolderID is the cloud folder for backends that namespace models by
	// folder (YandexGPT).
	FolderID string

	// BaseURL overrides the backend's default endpoint.
	BaseURL string

	// Timeout bounds a single upstream call. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxRetries is the per-backend transport retry budget.
	MaxRetries int

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// NewBackendConfig returns a config for name with all defaults applied.
func NewBackendConfig(name string) BackendConfig {
	return BackendConfig{
		Name:       name,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

// Validate checks the configured bounds.
func (c BackendConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("orchestrator: backend name is required")
	}
	if c.Timeout != 0 && (c.Timeout < MinTimeout || c.Timeout > MaxTimeout) {
		return fmt.Errorf("orchestrator: backend %q: timeout must be in [%s, %s], got %s",
			c.Name, MinTimeout, MaxTimeout, c.Timeout)
	}
	if c.MaxRetries < 0 || c.MaxRetries > MaxRetriesLimit {
		return fmt.Errorf("orchestrator: backend %q: max_retries must be in [0, %d], got %d",
			c.Name, MaxRetriesLimit, c.MaxRetries)
	}
	return nil
}

// EffectiveTimeout returns Timeout, or DefaultTimeout when unset.
func (c BackendConfig) EffectiveTimeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}
