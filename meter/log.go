package meter

import (
	"log/slog"

	orchestrator "github.com/MikhailMalorod/Multi-LLM-Orchestrator"
)

// LogMeter logs routing events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ orchestrator.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnRoute(e orchestrator.RouteEvent) {
	m.Logger.Info("route",
		"backend", e.Backend,
		"attempt", e.Attempt,
		"attempt_id", e.AttemptID,
		"stream", e.Stream,
	)
}

func (m *LogMeter) OnResult(e orchestrator.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"backend", e.Backend,
			"model", e.Model,
			"attempt", e.Attempt,
			"duration_ms", e.Duration.Milliseconds(),
			"prompt_tokens", e.Usage.PromptTokens,
			"completion_tokens", e.Usage.CompletionTokens,
			"cost", e.Cost,
			"stream", e.Stream,
		)
	} else {
		m.Logger.Warn("result_error",
			"backend", e.Backend,
			"attempt", e.Attempt,
			"duration_ms", e.Duration.Milliseconds(),
			"stream", e.Stream,
			"error", e.Error,
		)
	}
}
