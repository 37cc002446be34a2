package orchestrator_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/MikhailMalorod/Multi-LLM-Orchestrator"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_FullFile(t *testing.T) {
	path := writeConfig(t, `
strategy: best-available
probe_timeout: 5
backends:
  - name: gigachat
    model: GigaChat-Pro
    api_key: secret
    scope: GIGACHAT_API_CORP
    timeout: 60
    max_retries: 5
    verify_tls: false
  - name: yandexgpt
    model: yandexgpt-lite/latest
    api_key: iam-token
    folder_id: b1gabcdef
  - name: ollama
    model: llama3
    base_url: http://10.0.0.5:11434
`)

	cfg, err := orchestrator.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, orchestrator.StrategyBestAvailable, cfg.Strategy)
	assert.Equal(t, 5*time.Second, cfg.ProbeTimeout)
	require.Len(t, cfg.Backends, 3)

	gc := cfg.Backends[0]
	assert.Equal(t, "gigachat", gc.Name)
	assert.Equal(t, "GigaChat-Pro", gc.Model)
	assert.Equal(t, "secret", gc.APIKey)
	assert.Equal(t, "GIGACHAT_API_CORP", gc.Scope)
	assert.Equal(t, 60*time.Second, gc.Timeout)
	assert.Equal(t, 5, gc.MaxRetries)
	assert.True(t, gc.InsecureSkipVerify)

	yg := cfg.Backends[1]
	assert.Equal(t, "yandexgpt", yg.Name)
	assert.Equal(t, "iam-token", yg.APIKey)
	assert.Equal(t, "b1gabcdef", yg.FolderID)

	ol := cfg.Backends[2]
	assert.Equal(t, "http://10.0.0.5:11434", ol.BaseURL)
	assert.Equal(t, orchestrator.DefaultTimeout, ol.Timeout)
	assert.Equal(t, orchestrator.DefaultMaxRetries, ol.MaxRetries)
	assert.False(t, ol.InsecureSkipVerify)
}

func TestLoadConfig_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_ORCH_KEY", "from-env")

	path := writeConfig(t, `
backends:
  - name: gigachat
    api_key: ${TEST_ORCH_KEY}
`)

	cfg, err := orchestrator.LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "from-env", cfg.Backends[0].APIKey)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := orchestrator.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "backends: [\n")
	_, err := orchestrator.LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadConfig_UnknownStrategy(t *testing.T) {
	path := writeConfig(t, `
strategy: cheapest
backends:
  - name: mock
`)
	_, err := orchestrator.LoadConfig(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrUnknownStrategy)
}

func TestLoadConfig_NoBackends(t *testing.T) {
	path := writeConfig(t, "strategy: random\n")
	_, err := orchestrator.LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one backend")
}

func TestLoadConfig_DuplicateBackendNames(t *testing.T) {
	path := writeConfig(t, `
backends:
  - name: mock
  - name: mock
`)
	_, err := orchestrator.LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate backend name")
}

func TestLoadConfig_TimeoutBounds(t *testing.T) {
	path := writeConfig(t, `
backends:
  - name: mock
    timeout: 900
`)
	_, err := orchestrator.LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")

	path = writeConfig(t, `
backends:
  - name: mock
    max_retries: 99
`)
	_, err = orchestrator.LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retries")
}

func TestBackendConfig_Defaults(t *testing.T) {
	cfg := orchestrator.NewBackendConfig("x")
	assert.Equal(t, orchestrator.DefaultTimeout, cfg.Timeout)
	assert.Equal(t, orchestrator.DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, orchestrator.DefaultTimeout, cfg.EffectiveTimeout())
	require.NoError(t, cfg.Validate())

	cfg.Name = ""
	require.Error(t, cfg.Validate())
}
