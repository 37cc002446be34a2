package orchestrator

import "fmt"

// Generation parameter defaults.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	DefaultTopP        = 1.0
)

// GenerationParams controls sampling for a single generation call.
// Passing a nil *GenerationParams to the Router means "use defaults".
// Temperature and TopP are pointers so an explicit 0 (greedy sampling) is
// distinguishable from an absent field, mirroring the config file shapes.
type GenerationParams struct {
	Temperature *float64 `yaml:"temperature" json:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens" json:"max_tokens"`
	TopP        *float64 `yaml:"top_p" json:"top_p,omitempty"`
	Stop        []string `yaml:"stop,omitempty" json:"stop,omitempty"`
}

// Float64 returns a pointer to v, for filling optional parameter fields.
func Float64(v float64) *float64 { return &v }

// DefaultGenerationParams returns the parameter set used when the caller
// passes nil.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		Temperature: Float64(DefaultTemperature),
		MaxTokens:   DefaultMaxTokens,
		TopP:        Float64(DefaultTopP),
	}
}

// Validate checks the parameter bounds. Nil optional fields are valid; they
// take their default at dispatch time.
func (p GenerationParams) Validate() error {
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return fmt.Errorf("orchestrator: temperature must be in [0, 2], got %v", *p.Temperature)
	}
	if p.MaxTokens < 1 {
		return fmt.Errorf("orchestrator: max_tokens must be >= 1, got %d", p.MaxTokens)
	}
	if p.TopP != nil && (*p.TopP < 0 || *p.TopP > 1) {
		return fmt.Errorf("orchestrator: top_p must be in [0, 1], got %v", *p.TopP)
	}
	return nil
}

// ParamsOrDefault normalizes caller-supplied params: nil means all defaults,
// and absent fields on a non-nil value take their default. Explicit zeros
// are kept. Backends call this so every optional field is set.
func ParamsOrDefault(params *GenerationParams) GenerationParams {
	if params == nil {
		return DefaultGenerationParams()
	}
	p := *params
	if p.Temperature == nil {
		p.Temperature = Float64(DefaultTemperature)
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if p.TopP == nil {
		p.TopP = Float64(DefaultTopP)
	}
	return p
}

func resolveParams(params *GenerationParams) (GenerationParams, error) {
	p := ParamsOrDefault(params)
	if err := p.Validate(); err != nil {
		return GenerationParams{}, err
	}
	return p, nil
}

// Usage represents token usage reported by a backend.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Response is a completed generation.
type Response struct {
	Text    string
	Model   string
	Usage   Usage
	Routing RoutingInfo
}

// RoutingInfo describes which backend served a request and what it cost.
type RoutingInfo struct {
	Backend  string
	Model    string
	Attempts int
	Cost     float64
}
