// Package yandexgpt implements the YandexGPT (Yandex Cloud Foundation
// Models) backend with IAM token authentication.
package yandexgpt

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
	"strconv"
	"strings"

	orchestrator "github.com/MikhailMalorod/Multi-LLM-Orchestrator"
)

// API endpoint and defaults.
const (
	DefaultBaseURL = "https://llm.api.cloud.yandex.net"
	completionPath = "/foundationModels/v1/completion"
	DefaultModel   = "yandexgpt/latest"
)

// Backend talks to the Yandex Cloud completion API. The configured APIKey
// is an IAM token; FolderID names the cloud folder the models live in.
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

// New creates a YandexGPT backend. cfg.APIKey (the IAM token) and
// cfg.FolderID are required.
func New(cfg orchestrator.BackendConfig, opts ...Option) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("yandexgpt: api_key is required")
	}
	if cfg.FolderID == "" {
		return nil, fmt.Errorf("yandexgpt: folder_id is required")
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

// modelURI builds the request's model reference. A configured model that is
// already a full gpt:// URI is used as-is; otherwise the model name is
// namespaced under the folder.
func (b *Backend) modelURI() string {
	model := b.cfg.Model
	if model == "" {
		model = DefaultModel
	}
	if strings.HasPrefix(model, "gpt://") {
		return model
	}
	return "gpt://" + b.cfg.FolderID + "/" + model
}

type completionRequest struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions completionOptions `json:"completionOptions"`
	Messages          []message         `json:"messages"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

type message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// The API reports token counts as decimal strings.
type completionResponse struct {
	Result struct {
		Alternatives []struct {
			Message message `json:"message"`
			Status  string  `json:"status"`
		} `json:"alternatives"`
		Usage struct {
			InputTextTokens  string `json:"inputTextTokens"`
			CompletionTokens string `json:"completionTokens"`
			TotalTokens      string `json:"totalTokens"`
		} `json:"usage"`
		ModelVersion string `json:"modelVersion"`
	} `json:"result"`
}

func (b *Backend) Generate(ctx context.Context, prompt string, params *orchestrator.GenerationParams) (orchestrator.Response, error) {
	httpResp, err := b.doCompletion(ctx, prompt, params, false)
	if err != nil {
		return orchestrator.Response{}, err
	}
	defer httpResp.Body.Close()

	var resp completionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return orchestrator.Response{}, fmt.Errorf("yandexgpt: decode response: %w", err)
	}
	if len(resp.Result.Alternatives) == 0 {
		return orchestrator.Response{}, fmt.Errorf("%w: empty alternatives", orchestrator.ErrBackendUnavailable)
	}

	promptTokens := parseTokenCount(resp.Result.Usage.InputTextTokens)
	completionTokens := parseTokenCount(resp.Result.Usage.CompletionTokens)
	totalTokens := parseTokenCount(resp.Result.Usage.TotalTokens)

	return orchestrator.Response{
		Text:  resp.Result.Alternatives[0].Message.Text,
		Model: b.modelURI(),
		Usage: orchestrator.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      totalTokens,
		},
	}, nil
}

// GenerateStream opens the API's streaming mode, where each line carries the
// cumulative response so far.
func (b *Backend) GenerateStream(ctx context.Context, prompt string, params *orchestrator.GenerationParams) (orchestrator.Stream, error) {
	httpResp, err := b.doCompletion(ctx, prompt, params, true)
	if err != nil {
		return nil, err
	}
	return &deltaStream{
		scanner: bufio.NewScanner(httpResp.Body),
		body:    httpResp.Body,
	}, nil
}

// HealthCheck sends a minimal one-token completion, like a ping.
func (b *Backend) HealthCheck(ctx context.Context) bool {
	resp, err := b.doCompletion(ctx, "ping", &orchestrator.GenerationParams{
		Temperature: orchestrator.Float64(0),
		MaxTokens:   1,
	}, false)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (b *Backend) doCompletion(ctx context.Context, prompt string, params *orchestrator.GenerationParams, stream bool) (*http.Response, error) {
	p := orchestrator.ParamsOrDefault(params)

	body, err := json.Marshal(completionRequest{
		ModelURI: b.modelURI(),
		CompletionOptions: completionOptions{
			Stream:      stream,
			Temperature: *p.Temperature,
			MaxTokens:   p.MaxTokens,
		},
		Messages: []message{{Role: "user", Text: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("yandexgpt: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+completionPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("yandexgpt: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	req.Header.Set("x-folder-id", b.cfg.FolderID)

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

	if err := mapHTTPError(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	msg := strings.TrimSpace(string(body))

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound:
		return fmt.Errorf("%w: http %d: %s", orchestrator.ErrInvalidRequest, resp.StatusCode, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: http %d: %s", orchestrator.ErrAuthFailed, resp.StatusCode, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: http %d: %s", orchestrator.ErrRateLimited, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: http %d: %s", orchestrator.ErrBackendUnavailable, resp.StatusCode, msg)
	}
}

func parseTokenCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// deltaStream turns the API's cumulative stream lines into fragments by
// emitting only the suffix beyond what was already forwarded.
type deltaStream struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
	seen    int
}

func (s *deltaStream) Next() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		var chunk completionResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if len(chunk.Result.Alternatives) == 0 {
			continue
		}

		text := chunk.Result.Alternatives[0].Message.Text
		if len(text) <= s.seen {
			continue
		}
		delta := text[s.seen:]
		s.seen = len(text)
		return delta, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", orchestrator.ErrBackendUnavailable, err)
	}
	return "", io.EOF
}

func (s *deltaStream) Close() error {
	return s.body.Close()
}
