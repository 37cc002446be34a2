package meter

import orchestrator "github.com/MikhailMalorod/Multi-LLM-Orchestrator"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ orchestrator.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnRoute(orchestrator.RouteEvent)   {}
func (m *NoopMeter) OnResult(orchestrator.ResultEvent) {}
