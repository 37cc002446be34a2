package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/MikhailMalorod/Multi-LLM-Orchestrator"
	"github.com/MikhailMalorod/Multi-LLM-Orchestrator/backend/mock"
)

func newMock(name string, opts ...mock.Option) *mock.Backend {
	return mock.New(orchestrator.NewBackendConfig(name), opts...)
}

func newFailingMock(name string, model string) *mock.Backend {
	cfg := orchestrator.NewBackendConfig(name)
	cfg.Model = model
	return mock.New(cfg)
}

func newRouter(t *testing.T, strategy orchestrator.Strategy, backends ...orchestrator.Backend) *orchestrator.Router {
	t.Helper()
	opts := []orchestrator.Option{}
	if strategy != nil {
		opts = append(opts, orchestrator.WithStrategy(strategy))
	}
	r := orchestrator.New(opts...)
	for _, b := range backends {
		require.NoError(t, r.Register(b))
	}
	return r
}

func TestRegister_DuplicateNameRejected(t *testing.T) {
	r := orchestrator.New()
	require.NoError(t, r.Register(newMock("a")))

	err := r.Register(newMock("a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrDuplicateBackend)
}

func TestGenerate_EmptyRegistry(t *testing.T) {
	r := orchestrator.New()

	_, err := r.Generate(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, orchestrator.ErrNoBackends)

	_, err = r.GenerateStream(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, orchestrator.ErrNoBackends)
}

func TestGenerate_RoundRobinVisitsEachBackendOnce(t *testing.T) {
	backends := []*mock.Backend{newMock("b1"), newMock("b2"), newMock("b3")}

	r := newRouter(t, orchestrator.NewRoundRobin(), backends[0], backends[1], backends[2])

	for i, want := range []string{"b1", "b2", "b3"} {
		resp, err := r.Generate(context.Background(), "hello", nil)
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, want, resp.Routing.Backend)
	}

	for _, b := range backends {
		assert.Equal(t, int64(1), b.CallCount())
	}
}

func TestGenerate_CursorAdvancesOncePerCallDespiteFallback(t *testing.T) {
	failing := newFailingMock("bad", mock.ModelTimeout)
	good := newMock("good")

	r := newRouter(t, orchestrator.NewRoundRobin(), failing, good)

	// First call starts at "bad", falls back to "good".
	resp, err := r.Generate(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "good", resp.Routing.Backend)
	assert.Equal(t, 2, resp.Routing.Attempts)

	// Second call starts at "good" directly; "bad" is not touched again.
	resp, err = r.Generate(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "good", resp.Routing.Backend)
	assert.Equal(t, 1, resp.Routing.Attempts)

	assert.Equal(t, int64(1), failing.CallCount())
}

func TestGenerate_FallbackRecordsLedger(t *testing.T) {
	failing := newFailingMock("bad", mock.ModelRateLimit)
	good := newMock("good")

	r := newRouter(t, orchestrator.NewRoundRobin(), failing, good)

	resp, err := r.Generate(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "good", resp.Routing.Backend)

	metrics := r.Metrics()
	assert.Equal(t, int64(1), metrics["bad"].FailedRequests)
	assert.Equal(t, int64(1), metrics["bad"].TotalRequests)
	assert.Equal(t, int64(1), metrics["good"].SuccessfulRequests)
	assert.Equal(t, int64(1), metrics["good"].TotalRequests)
}

func TestGenerate_AllFailedSurfacesLastError(t *testing.T) {
	first := newFailingMock("first", mock.ModelTimeout)
	last := newFailingMock("last", mock.ModelRateLimit)

	r := newRouter(t, orchestrator.NewRoundRobin(), first, last)

	_, err := r.Generate(context.Background(), "hello", nil)
	require.Error(t, err)

	// The last backend in the fallback order failed with a rate limit, so
	// that is the kind the caller observes.
	assert.ErrorIs(t, err, orchestrator.ErrRateLimited)
	assert.NotErrorIs(t, err, orchestrator.ErrTimeout)

	var dispatchErr *orchestrator.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, "last", dispatchErr.Backend)
	assert.Equal(t, 2, dispatchErr.Attempts)
}

func TestGenerate_CancellationStopsFallback(t *testing.T) {
	slow := newMock("slow", mock.WithLatency(50*time.Millisecond))
	next := newMock("next")

	r := newRouter(t, orchestrator.NewRoundRobin(), slow, next)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Generate(ctx, "hello", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), next.CallCount())

	// The cancellation was the caller's doing; the backend's ledger must
	// not take the blame.
	snap := r.Metrics()["slow"]
	assert.Equal(t, int64(0), snap.TotalRequests)
	assert.Equal(t, int64(0), snap.FailedRequests)
}

func TestGenerate_InvalidParamsRejected(t *testing.T) {
	r := newRouter(t, nil, newMock("b1"))

	_, err := r.Generate(context.Background(), "hello", &orchestrator.GenerationParams{
		Temperature: orchestrator.Float64(3.0),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temperature")
}

func TestGenerate_SuccessRecordsUsageAndCost(t *testing.T) {
	cfg := orchestrator.NewBackendConfig("mock-1")
	b := mock.New(cfg, mock.WithResponse("four words of text"))

	r := newRouter(t, nil, b)

	resp, err := r.Generate(context.Background(), "hello there", nil)
	require.NoError(t, err)
	assert.Equal(t, "four words of text", resp.Text)
	assert.Greater(t, resp.Usage.TotalTokens, int64(0))
	assert.Equal(t, 0.0, resp.Routing.Cost) // mock family prices as free

	snap := r.Metrics()["mock-1"]
	assert.Equal(t, resp.Usage.PromptTokens, snap.PromptTokens)
	assert.Equal(t, resp.Usage.CompletionTokens, snap.CompletionTokens)
}

func TestGenerate_ConcurrentCallsKeepLedgerConsistent(t *testing.T) {
	b := newMock("b1")
	r := newRouter(t, orchestrator.NewRoundRobin(), b)

	const calls = 50
	var wg sync.WaitGroup
	errs := make([]error, calls)

	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = r.Generate(context.Background(), "hello", nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	snap := r.Metrics()["b1"]
	assert.Equal(t, int64(calls), snap.TotalRequests)
	assert.Equal(t, int64(calls), snap.SuccessfulRequests)
	assert.Equal(t, int64(0), snap.FailedRequests)
}

func TestMetrics_ReturnsDefensiveCopies(t *testing.T) {
	r := newRouter(t, nil, newMock("b1"))

	_, err := r.Generate(context.Background(), "hello", nil)
	require.NoError(t, err)

	snap := r.Metrics()["b1"]
	require.Len(t, snap.LatencyWindow, 1)
	snap.LatencyWindow[0] = -1
	snap.TotalRequests = 999

	fresh := r.Metrics()["b1"]
	assert.Equal(t, int64(1), fresh.TotalRequests)
	assert.NotEqual(t, -1.0, fresh.LatencyWindow[0])
}

func TestNewFromConfig_StrategyAndProbeTimeout(t *testing.T) {
	r, err := orchestrator.NewFromConfig(orchestrator.Config{
		Strategy:     orchestrator.StrategyFirstAvailable,
		ProbeTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NotNil(t, r)

	_, err = orchestrator.NewFromConfig(orchestrator.Config{Strategy: "fastest"})
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrUnknownStrategy)
}
