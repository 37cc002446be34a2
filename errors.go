package orchestrator

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// Configuration errors, raised at setup time and never retried.
	ErrDuplicateBackend = errors.New("orchestrator: backend already registered")
	ErrUnknownStrategy  = errors.New("orchestrator: unknown strategy")

	// ErrNoBackends is returned when a dispatch starts with an empty registry.
	ErrNoBackends = errors.New("orchestrator: no backends registered")

	// ErrAllFailed is returned only when the fallback loop spent itself
	// without recording a single concrete failure. Normally exhaustion
	// surfaces the last backend error instead.
	ErrAllFailed = errors.New("orchestrator: all backends failed")

	// Per-attempt backend failures. The Router recovers from all of these
	// by trying the next backend in circular order.
	ErrTimeout            = errors.New("orchestrator: request timed out")
	ErrAuthFailed         = errors.New("orchestrator: authentication failed")
	ErrRateLimited        = errors.New("orchestrator: rate limited")
	ErrInvalidRequest     = errors.New("orchestrator: invalid request")
	ErrBackendUnavailable = errors.New("orchestrator: backend unavailable")
)

// DispatchError wraps the last underlying failure of an exhausted dispatch
// with routing context. errors.Is and errors.As see through it, so the
// caller observes the same error kind the final backend produced.
type DispatchError struct {
	Err      error
	Backend  string
	Model    string
	Attempts int
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("orchestrator: backend=%s model=%s attempts=%d: %v",
		e.Backend, e.Model, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
