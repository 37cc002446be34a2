// Package gigachat implements the GigaChat (Sber) backend with OAuth2
// authentication and SSE streaming.
package gigachat

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	orchestrator "github.com/MikhailMalorod/Multi-LLM-Orchestrator"
)

// API endpoints and defaults.
const (
	OAuthURL       = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	DefaultBaseURL = "https://gigachat.devices.sberbank.ru/api/v1"
	DefaultScope   = "GIGACHAT_API_PERS"
	DefaultModel   = "GigaChat"

	// Access tokens live ~30 minutes; refresh this long before expiry.
	tokenExpiryBuffer = 60 * time.Second
)

// Backend is the GigaChat backend. The configured APIKey is the OAuth2
// authorization key; access tokens are fetched lazily and refreshed under
// a lock so concurrent calls never race the handshake.
type Backend struct {
	cfg      orchestrator.BackendConfig
	baseURL  string
	oauthURL string
	client   *http.Client

	mu             sync.Mutex
	accessToken    string
	tokenExpiresAt time.Time
}

var _ orchestrator.Backend = (*Backend)(nil)

// Option configures the backend.
type Option func(*Backend)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.client = c }
}

// WithOAuthURL overrides the OAuth endpoint.
func WithOAuthURL(u string) Option {
	return func(b *Backend) { b.oauthURL = u }
}

// New creates a GigaChat backend. cfg.APIKey is required.
func New(cfg orchestrator.BackendConfig, opts ...Option) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gigachat: api_key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	b := &Backend{
		cfg:      cfg,
		baseURL:  strings.TrimRight(baseURL, "/"),
		oauthURL: OAuthURL,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		b.client = &http.Client{
			Timeout:   cfg.EffectiveTimeout(),
			Transport: transport,
		}
	}
	return b, nil
}

func (b *Backend) Name() string { return b.cfg.Name }

// HealthCheck reports whether an access token can be obtained.
func (b *Backend) HealthCheck(ctx context.Context) bool {
	_, err := b.ensureToken(ctx)
	return err == nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
	Stream      bool          `json:"stream,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

func (b *Backend) Generate(ctx context.Context, prompt string, params *orchestrator.GenerationParams) (orchestrator.Response, error) {
	httpResp, err := b.doChat(ctx, prompt, params, false)
	if err != nil {
		return orchestrator.Response{}, err
	}
	defer httpResp.Body.Close()

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return orchestrator.Response{}, fmt.Errorf("gigachat: decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return orchestrator.Response{}, fmt.Errorf("%w: empty choices", orchestrator.ErrBackendUnavailable)
	}

	return orchestrator.Response{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: orchestrator.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (b *Backend) GenerateStream(ctx context.Context, prompt string, params *orchestrator.GenerationParams) (orchestrator.Stream, error) {
	httpResp, err := b.doChat(ctx, prompt, params, true)
	if err != nil {
		return nil, err
	}
	return &sseStream{
		reader: bufio.NewReader(httpResp.Body),
		body:   httpResp.Body,
	}, nil
}

// doChat performs the chat completion request, refreshing the access token
// once on a 401.
func (b *Backend) doChat(ctx context.Context, prompt string, params *orchestrator.GenerationParams, stream bool) (*http.Response, error) {
	token, err := b.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	model := b.cfg.Model
	if model == "" {
		model = DefaultModel
	}
	p := orchestrator.ParamsOrDefault(params)

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: *p.Temperature,
		MaxTokens:   p.MaxTokens,
		TopP:        *p.TopP,
		Stream:      stream,
		Stop:        p.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("gigachat: marshal request: %w", err)
	}

	httpResp, err := b.postChat(ctx, token, body)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode == http.StatusUnauthorized {
		// Token may have expired mid-flight: refresh once and retry.
		httpResp.Body.Close()
		b.invalidateToken()
		token, err = b.ensureToken(ctx)
		if err != nil {
			return nil, err
		}
		httpResp, err = b.postChat(ctx, token, body)
		if err != nil {
			return nil, err
		}
	}

	if err := mapHTTPError(httpResp); err != nil {
		return nil, err
	}
	return httpResp, nil
}

func (b *Backend) postChat(ctx context.Context, token string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gigachat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("RqUID", uuid.New().String())

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	return resp, nil
}

// ensureToken returns a valid access token, fetching a fresh one when the
// cached token is missing or close to expiry.
func (b *Backend) ensureToken(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.accessToken != "" && time.Until(b.tokenExpiresAt) > tokenExpiryBuffer {
		return b.accessToken, nil
	}

	scope := b.cfg.Scope
	if scope == "" {
		scope = DefaultScope
	}
	form := url.Values{"scope": {scope}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.oauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("gigachat: create oauth request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+b.cfg.APIKey)
	req.Header.Set("RqUID", uuid.New().String())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("%w: invalid authorization key", orchestrator.ErrAuthFailed)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: oauth http %d: %s", orchestrator.ErrBackendUnavailable, resp.StatusCode, body)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"` // unix milliseconds
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("gigachat: decode oauth response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", orchestrator.ErrAuthFailed)
	}

	b.accessToken = tokenResp.AccessToken
	b.tokenExpiresAt = time.UnixMilli(tokenResp.ExpiresAt)
	return b.accessToken, nil
}

func (b *Backend) invalidateToken() {
	b.mu.Lock()
	b.accessToken = ""
	b.mu.Unlock()
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	msg := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: http %d: %s", orchestrator.ErrInvalidRequest, resp.StatusCode, msg)
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: http %d: %s", orchestrator.ErrAuthFailed, resp.StatusCode, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http %d: %s", orchestrator.ErrRateLimited, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: http %d: %s", orchestrator.ErrBackendUnavailable, resp.StatusCode, msg)
	}
}

func mapTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", orchestrator.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", orchestrator.ErrBackendUnavailable, err)
}

// sseStream parses Server-Sent Events from the streaming response body and
// yields delta content fragments.
type sseStream struct {
	reader *bufio.Reader
	body   io.ReadCloser
}

func (s *sseStream) Next() (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err == io.EOF {
			return "", io.EOF
		}
		if err != nil {
			// A truncated response must not look like a clean finish.
			return "", fmt.Errorf("%w: %v", orchestrator.ErrBackendUnavailable, err)
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return "", io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip malformed chunks
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
