package mock_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/MikhailMalorod/Multi-LLM-Orchestrator"
	"github.com/MikhailMalorod/Multi-LLM-Orchestrator/backend/mock"
)

func withModel(model string) orchestrator.BackendConfig {
	cfg := orchestrator.NewBackendConfig("mock")
	cfg.Model = model
	return cfg
}

func TestGenerate_Normal(t *testing.T) {
	b := mock.New(withModel(mock.ModelNormal))

	resp, err := b.Generate(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: ping", resp.Text)
	assert.Equal(t, mock.ModelNormal, resp.Model)
	assert.Greater(t, resp.Usage.TotalTokens, int64(0))
	assert.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	assert.Equal(t, int64(1), b.CallCount())
}

func TestGenerate_ErrorModes(t *testing.T) {
	cases := []struct {
		model string
		want  error
	}{
		{mock.ModelTimeout, orchestrator.ErrTimeout},
		{mock.ModelRateLimit, orchestrator.ErrRateLimited},
		{mock.ModelAuthError, orchestrator.ErrAuthFailed},
		{mock.ModelInvalidRequest, orchestrator.ErrInvalidRequest},
	}
	for _, tc := range cases {
		b := mock.New(withModel(tc.model))
		_, err := b.Generate(context.Background(), "ping", nil)
		assert.ErrorIs(t, err, tc.want, tc.model)

		_, err = b.GenerateStream(context.Background(), "ping", nil)
		assert.ErrorIs(t, err, tc.want, tc.model)
	}
}

func TestGenerate_ExplicitErrorOverridesMode(t *testing.T) {
	b := mock.New(withModel(mock.ModelNormal), mock.WithError(orchestrator.ErrRateLimited))
	_, err := b.Generate(context.Background(), "ping", nil)
	assert.ErrorIs(t, err, orchestrator.ErrRateLimited)
}

func TestGenerate_MaxTokensCapsResponse(t *testing.T) {
	b := mock.New(withModel(mock.ModelNormal))

	resp, err := b.Generate(context.Background(), "one two three four five", &orchestrator.GenerationParams{
		MaxTokens: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "Mock response ", resp.Text)
}

func TestGenerate_LatencyRespectsContext(t *testing.T) {
	b := mock.New(withModel(mock.ModelNormal), mock.WithLatency(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Generate(ctx, "ping", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerateStream_ConcatReproducesResponse(t *testing.T) {
	b := mock.New(withModel(mock.ModelNormal), mock.WithResponse("alpha beta gamma"))

	s, err := b.GenerateStream(context.Background(), "ping", nil)
	require.NoError(t, err)
	defer s.Close()

	var sb strings.Builder
	for {
		frag, err := s.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sb.WriteString(frag)
	}
	assert.Equal(t, "alpha beta gamma", sb.String())
}

func TestGenerateStream_FailAt(t *testing.T) {
	b := mock.New(withModel(mock.ModelNormal),
		mock.WithResponse("alpha beta gamma"),
		mock.WithStreamFailAt(2),
		mock.WithStreamError(orchestrator.ErrTimeout))

	s, err := b.GenerateStream(context.Background(), "ping", nil)
	require.NoError(t, err)
	defer s.Close()

	frag, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "alpha ", frag)

	_, err = s.Next()
	assert.ErrorIs(t, err, orchestrator.ErrTimeout)
}

func TestHealthCheck(t *testing.T) {
	assert.True(t, mock.New(withModel(mock.ModelNormal)).HealthCheck(context.Background()))
	assert.False(t, mock.New(withModel(mock.ModelUnhealthy)).HealthCheck(context.Background()))
	assert.False(t, mock.New(withModel(mock.ModelNormal), mock.WithHealthy(false)).HealthCheck(context.Background()))
	assert.True(t, mock.New(withModel(mock.ModelUnhealthy), mock.WithHealthy(true)).HealthCheck(context.Background()))
}
