package meter

import (
	"go.uber.org/zap"

	orchestrator "github.com/MikhailMalorod/Multi-LLM-Orchestrator"
)

// ZapMeter logs routing events using a zap logger.
type ZapMeter struct {
	logger *zap.Logger
}

var _ orchestrator.Meter = (*ZapMeter)(nil)

// NewZapMeter creates a ZapMeter. If logger is nil, a no-op logger is used.
func NewZapMeter(logger *zap.Logger) *ZapMeter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapMeter{logger: logger}
}

func (m *ZapMeter) OnRoute(e orchestrator.RouteEvent) {
	m.logger.Info("route",
		zap.String("backend", e.Backend),
		zap.Int("attempt", e.Attempt),
		zap.String("attempt_id", e.AttemptID),
		zap.Bool("stream", e.Stream),
	)
}

func (m *ZapMeter) OnResult(e orchestrator.ResultEvent) {
	if e.Success {
		m.logger.Info("result",
			zap.String("backend", e.Backend),
			zap.String("model", e.Model),
			zap.Int("attempt", e.Attempt),
			zap.Int64("duration_ms", e.Duration.Milliseconds()),
			zap.Int64("prompt_tokens", e.Usage.PromptTokens),
			zap.Int64("completion_tokens", e.Usage.CompletionTokens),
			zap.Float64("cost", e.Cost),
			zap.Bool("stream", e.Stream),
		)
		return
	}
	m.logger.Warn("result_error",
		zap.String("backend", e.Backend),
		zap.Int("attempt", e.Attempt),
		zap.Int64("duration_ms", e.Duration.Milliseconds()),
		zap.Bool("stream", e.Stream),
		zap.Error(e.Error),
	)
}
