package orchestrator

import "time"

// Meter observes routing decisions and attempt outcomes for monitoring and
// logging. Implementations must be safe for concurrent use.
type Meter interface {
	// OnRoute is called when an attempt is about to hit a backend.
	OnRoute(event RouteEvent)

	// OnResult is called once the attempt's outcome is known. For streams
	// this fires when the stream finishes or fails, not per fragment.
	OnResult(event ResultEvent)
}

// RouteEvent describes one attempt in a fallback sequence.
type RouteEvent struct {
	AttemptID string
	Backend   string
	Attempt   int // 1-based position in the fallback order
	Stream    bool
}

// ResultEvent describes the outcome of one backend attempt.
type ResultEvent struct {
	AttemptID string
	Backend   string
	Model     string
	Attempt   int
	Success   bool
	Duration  time.Duration
	Usage     Usage
	Cost      float64
	Stream    bool
	Error     error
}

// noopMeter is the default meter, kept inline to avoid an import cycle
// with the meter subpackage.
type noopMeter struct{}

func (noopMeter) OnRoute(RouteEvent)   {}
func (noopMeter) OnResult(ResultEvent) {}
