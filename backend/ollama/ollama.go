// Package ollama implements a backend for a local Ollama daemon.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	orchestrator "github.com/MikhailMalorod/Multi-LLM-Orchestrator"
)

// DefaultBaseURL is the daemon's default listen address.
const DefaultBaseURL = "http://localhost:11434"

// Backend talks to an Ollama daemon over its native HTTP API.
type Backend struct {
	cfg     orchestrator.BackendConfig
	baseURL string
	client  *http.Client
}

var _ orchestrator.Backend = (*Backend)(nil)

// Option configures the backend.
type Option func(*Backend)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client = c }
}

// New creates an Ollama backend. No credentials are required.
func New(cfg orchestrator.BackendConfig, opts ...Option) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	b := &Backend{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		b.client = &http.Client{Timeout: cfg.EffectiveTimeout()}
	}
	return b, nil
}

func (b *Backend) Name() string { return b.cfg.Name }

// HealthCheck probes the daemon's model listing endpoint.
func (b *Backend) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64  `json:"temperature"`
	NumPredict  int      `json:"num_predict"`
	TopP        float64  `json:"top_p"`
	Stop        []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
}

func (b *Backend) Generate(ctx context.Context, prompt string, params *orchestrator.GenerationParams) (orchestrator.Response, error) {
	httpResp, err := b.doGenerate(ctx, prompt, params, false)
	if err != nil {
		return orchestrator.Response{}, err
	}
	defer httpResp.Body.Close()

	var resp generateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return orchestrator.Response{}, fmt.Errorf("ollama: decode response: %w", err)
	}

	return orchestrator.Response{
		Text:  resp.Response,
		Model: resp.Model,
		Usage: orchestrator.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

func (b *Backend) GenerateStream(ctx context.Context, prompt string, params *orchestrator.GenerationParams) (orchestrator.Stream, error) {
	httpResp, err := b.doGenerate(ctx, prompt, params, true)
	if err != nil {
		return nil, err
	}
	return &ndjsonStream{
		scanner: bufio.NewScanner(httpResp.Body),
		body:    httpResp.Body,
	}, nil
}

func (b *Backend) doGenerate(ctx context.Context, prompt string, params *orchestrator.GenerationParams, stream bool) (*http.Response, error) {
	p := orchestrator.ParamsOrDefault(params)

	body, err := json.Marshal(generateRequest{
		Model:  b.cfg.Model,
		Prompt: prompt,
		Stream: stream,
		Options: generateOptions{
			Temperature: *p.Temperature,
			NumPredict:  p.MaxTokens,
			TopP:        *p.TopP,
			Stop:        p.Stop,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%w: %v", orchestrator.ErrTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", orchestrator.ErrBackendUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: model %q not found: %s", orchestrator.ErrInvalidRequest, b.cfg.Model, msg)
		}
		if resp.StatusCode == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %s", orchestrator.ErrInvalidRequest, msg)
		}
		return nil, fmt.Errorf("%w: http %d: %s", orchestrator.ErrBackendUnavailable, resp.StatusCode, msg)
	}
	return resp, nil
}

// ndjsonStream reads the daemon's newline-delimited JSON stream and yields
// response fragments until the final done message.
type ndjsonStream struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
}

func (s *ndjsonStream) Next() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		var chunk generateResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Done && chunk.Response == "" {
			return "", io.EOF
		}
		if chunk.Response == "" {
			continue
		}
		return chunk.Response, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", orchestrator.ErrBackendUnavailable, err)
	}
	return "", io.EOF
}

func (s *ndjsonStream) Close() error {
	return s.body.Close()
}
