package orchestrator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file-based router configuration.
type Config struct {
	// Strategy is one of the ParseStrategy names. Empty means round-robin.
	Strategy string

	// ProbeTimeout bounds each health probe under the first-available
	// strategy. Zero means DefaultProbeTimeout.
	ProbeTimeout time.Duration

	Backends []BackendConfig
}

// Raw YAML shapes. Durations are whole seconds in the file; pointers
// distinguish "absent" from an explicit zero so defaults apply correctly.
type configYAML struct {
	Strategy            string              `yaml:"strategy"`
	ProbeTimeoutSeconds *int                `yaml:"probe_timeout"`
	Backends            []backendConfigYAML `yaml:"backends"`
}

type backendConfigYAML struct {
	Name           string `yaml:"name"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	Scope          string `yaml:"scope"`
	FolderID       string `yaml:"folder_id"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds *int   `yaml:"timeout"`
	MaxRetries     *int   `yaml:"max_retries"`
	VerifyTLS      *bool  `yaml:"verify_tls"`
}

// LoadConfig reads and parses a YAML config file. Environment variables in
// the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("orchestrator: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var raw configYAML
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return Config{}, fmt.Errorf("orchestrator: parse config: %w", err)
	}

	cfg := raw.resolve()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (raw configYAML) resolve() Config {
	cfg := Config{Strategy: raw.Strategy}
	if raw.ProbeTimeoutSeconds != nil {
		cfg.ProbeTimeout = time.Duration(*raw.ProbeTimeoutSeconds) * time.Second
	}
	for _, b := range raw.Backends {
		bc := NewBackendConfig(b.Name)
		bc.Model = b.Model
		bc.APIKey = b.APIKey
		bc.Scope = b.Scope
		bc.FolderID = b.FolderID
		bc.BaseURL = b.BaseURL
		if b.TimeoutSeconds != nil {
			bc.Timeout = time.Duration(*b.TimeoutSeconds) * time.Second
		}
		if b.MaxRetries != nil {
			bc.MaxRetries = *b.MaxRetries
		}
		if b.VerifyTLS != nil {
			bc.InsecureSkipVerify = !*b.VerifyTLS
		}
		cfg.Backends = append(cfg.Backends, bc)
	}
	return cfg
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.Strategy != "" {
		if _, err := ParseStrategy(c.Strategy); err != nil {
			return err
		}
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("orchestrator: config: at least one backend is required")
	}

	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("orchestrator: config: backend[%d]: %w", i, err)
		}
		if seen[b.Name] {
			return fmt.Errorf("orchestrator: config: duplicate backend name %q", b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}
