// Package config centralizes deepscout configuration: research budgets,
// search and model provider settings, and timeouts. Values come from
// defaults, an optional YAML file, and environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Budgets are the hard resource caps enforced by the tree manager before
// any new node is dispatched. Exceeding any one of them stops spawning and
// forces synthesis from whatever has completed.
type Budgets struct {
	// MaxNodes caps the total number of research nodes ever created.
	MaxNodes int `yaml:"max_nodes"`

	// MaxDepth caps the longest root-to-node chain in the tree.
	MaxDepth int `yaml:"max_depth"`

	// MaxTime caps wall-clock time since orchestration start.
	MaxTime time.Duration `yaml:"max_time"`

	// MaxCyclesPerNode bounds the search/reflect loop inside a single node.
	MaxCyclesPerNode int `yaml:"max_cycles_per_node"`

	// Concurrency bounds how many nodes may run their cycle loops at once.
	Concurrency int `yaml:"concurrency"`
}

// DefaultBudgets returns conservative research budgets.
func DefaultBudgets() Budgets {
	return Budgets{
		MaxNodes:         12,
		MaxDepth:         3,
		MaxTime:          10 * time.Minute,
		MaxCyclesPerNode: 4,
		Concurrency:      3,
	}
}

// SearchConfig configures the web search capability.
type SearchConfig struct {
	// Provider selects the backend: "tavily" (API key required) or
	// "duckduckgo" (keyless HTML scraping).
	Provider string `yaml:"provider"`

	// TavilyAPIKey authenticates against the Tavily API. Usually supplied
	// via the TAVILY_API_KEY environment variable rather than the file.
	TavilyAPIKey string `yaml:"tavily_api_key"`

	// Depth is Tavily's search depth parameter (basic or advanced).
	Depth string `yaml:"depth"`

	// MaxSources caps ranked sources returned per query.
	MaxSources int `yaml:"max_sources"`

	// Timeout bounds a single provider round trip.
	Timeout time.Duration `yaml:"timeout"`

	// CacheSize is the number of query results kept in the LRU cache.
	// Zero disables caching.
	CacheSize int `yaml:"cache_size"`

	// MaxRetries is the number of retry attempts for transient provider errors.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase is the initial retry backoff; it doubles per attempt.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffMax caps the retry backoff.
	BackoffMax time.Duration `yaml:"backoff_max"`
}

// DefaultSearchConfig returns sensible search defaults.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Provider:    "duckduckgo",
		Depth:       "basic",
		MaxSources:  5,
		Timeout:     30 * time.Second,
		CacheSize:   256,
		MaxRetries:  3,
		BackoffBase: 1 * time.Second,
		BackoffMax:  8 * time.Second,
	}
}

// LLMConfig configures the text-generation capability.
//
// The shortest timeout in the chain wins: the per-call context wraps the
// HTTP client, so PerCallTimeout is the effective ceiling for one call.
type LLMConfig struct {
	// Model is the Gemini model id used for structured generation.
	Model string `yaml:"model"`

	// APIKey authenticates against the provider. Usually supplied via the
	// GEMINI_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// PerCallTimeout bounds a single generation call.
	PerCallTimeout time.Duration `yaml:"per_call_timeout"`

	// MaxRetries is the number of retry attempts for transient failures.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase is the initial retry backoff; it doubles per attempt.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffMax caps the retry backoff.
	BackoffMax time.Duration `yaml:"backoff_max"`
}

// DefaultLLMConfig returns sensible model defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:          "gemini-2.5-flash",
		PerCallTimeout: 2 * time.Minute,
		MaxRetries:     3,
		BackoffBase:    1 * time.Second,
		BackoffMax:     8 * time.Second,
	}
}

// Config is the top-level deepscout configuration.
type Config struct {
	Budgets Budgets      `yaml:"budgets"`
	Search  SearchConfig `yaml:"search"`
	LLM     LLMConfig    `yaml:"llm"`
	Debug   bool         `yaml:"debug"`
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Budgets: DefaultBudgets(),
		Search:  DefaultSearchConfig(),
		LLM:     DefaultLLMConfig(),
	}
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; callers get defaults plus environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TAVILY_API_KEY"); v != "" {
		c.Search.TavilyAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("DEEPSCOUT_SEARCH_PROVIDER"); v != "" {
		c.Search.Provider = v
	}
	if v := os.Getenv("DEEPSCOUT_MODEL"); v != "" {
		c.LLM.Model = v
	}
}

func (c *Config) validate() error {
	if c.Budgets.MaxNodes < 1 {
		return fmt.Errorf("budgets.max_nodes must be >= 1, got %d", c.Budgets.MaxNodes)
	}
	if c.Budgets.MaxDepth < 1 {
		return fmt.Errorf("budgets.max_depth must be >= 1, got %d", c.Budgets.MaxDepth)
	}
	if c.Budgets.Concurrency < 1 {
		return fmt.Errorf("budgets.concurrency must be >= 1, got %d", c.Budgets.Concurrency)
	}
	if c.Budgets.MaxCyclesPerNode < 1 {
		return fmt.Errorf("budgets.max_cycles_per_node must be >= 1, got %d", c.Budgets.MaxCyclesPerNode)
	}
	switch c.Search.Provider {
	case "tavily", "duckduckgo":
	default:
		return fmt.Errorf("unknown search provider %q", c.Search.Provider)
	}
	return nil
}
