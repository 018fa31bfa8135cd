package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/lance13c/vrt/internal/types"
)

// Baseline backend types
const (
	BaselineLocal    = "local"
	BaselineFigmaMCP = "figma-mcp"
)

// Fallback strategies for failed LLM calls
const (
	FallbackRetry     = "retry"
	FallbackRuleBased = "rule-based"
	FallbackSkip      = "skip"
)

// Config represents the complete vrt configuration
type Config struct {
	Directories DirectoriesConfig `yaml:"directories"`
	Server      ServerConfig      `yaml:"server"`
	Screenshot  ScreenshotConfig  `yaml:"screenshot"`
	Comparison  ComparisonConfig  `yaml:"comparison"`
	Baseline    BaselineConfig    `yaml:"baseline"`
	LLM         LLMConfig         `yaml:"llm"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Targets     []TargetConfig    `yaml:"targets"`
}

// DirectoriesConfig holds artifact locations
type DirectoriesConfig struct {
	Baselines string `yaml:"baselines"`
	Actuals   string `yaml:"actuals"`
	Diffs     string `yaml:"diffs"`
	Cache     string `yaml:"cache"`
}

// ServerConfig holds the application under test
type ServerConfig struct {
	URL string `yaml:"url"`
}

// ScreenshotConfig holds browser and capture settings
type ScreenshotConfig struct {
	Browsers   []string                  `yaml:"browsers"`
	Headless   bool                      `yaml:"headless"`
	Viewport   types.Viewport            `yaml:"viewport"`
	Viewports  map[string]types.Viewport `yaml:"viewports,omitempty"`
	FullPage   bool                      `yaml:"full_page"`
	Timeout    time.Duration             `yaml:"timeout"`
	Retries    int                       `yaml:"retries"`
	RetryDelay time.Duration             `yaml:"retry_delay"`
	Pool       PoolConfig                `yaml:"pool"`
	Stability  StabilityConfig           `yaml:"stability"`

	// BrowserOverrides lets a single engine use its own viewport
	BrowserOverrides map[string]BrowserOverride `yaml:"browser_overrides,omitempty"`
}

// BrowserOverride holds per-engine screenshot settings
type BrowserOverride struct {
	Viewport  *types.Viewport `yaml:"viewport,omitempty"`
	ExecPath  string          `yaml:"exec_path,omitempty"`
	ExtraArgs []string        `yaml:"extra_args,omitempty"`
}

// PoolConfig bounds the per-engine page pool
type PoolConfig struct {
	MaxPages       int           `yaml:"max_pages"`
	MaxIdle        int           `yaml:"max_idle"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// WaitStrategy is one custom wait step run before a capture
type WaitStrategy struct {
	Type     string        `yaml:"type"` // selector, network, delay
	Selector string        `yaml:"selector,omitempty"`
	State    string        `yaml:"state,omitempty"` // visible, hidden, idle
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
}

// TextReplacement swaps the text of matched elements
type TextReplacement struct {
	Selector string `yaml:"selector"`
	Text     string `yaml:"text"`
}

// ConsistencyConfig controls multi-shot capture
type ConsistencyConfig struct {
	Attempts  int           `yaml:"attempts"`
	Delay     time.Duration `yaml:"delay"`
	Threshold float64       `yaml:"threshold"`
}

// StabilityConfig prepares pages for deterministic screenshots
type StabilityConfig struct {
	DisableAnimations  bool              `yaml:"disable_animations"`
	WaitForNetworkIdle bool              `yaml:"wait_for_network_idle"`
	NetworkIdleTimeout time.Duration     `yaml:"network_idle_timeout"`
	WaitForAnimations  bool              `yaml:"wait_for_animations"`
	AnimationTimeout   time.Duration     `yaml:"animation_timeout"`
	WaitStrategies     []WaitStrategy    `yaml:"wait_strategies,omitempty"`
	HideSelectors      []string          `yaml:"hide,omitempty"`
	MaskSelectors      []string          `yaml:"mask,omitempty"`
	MaskColor          string            `yaml:"mask_color,omitempty"`
	ReplaceText        []TextReplacement `yaml:"replace_text,omitempty"`
	FinalDelay         time.Duration     `yaml:"final_delay"`
	Consistency        ConsistencyConfig `yaml:"consistency"`
}

// ComparisonConfig holds pixel diff settings
type ComparisonConfig struct {
	Threshold      float64 `yaml:"threshold"`       // allowed mismatch ratio, 0.01 = 1%
	ColorThreshold float64 `yaml:"color_threshold"` // per-pixel YIQ sensitivity, 0..1
	Antialiasing   bool    `yaml:"antialiasing"`    // ignore anti-aliased pixels
}

// BaselineConfig selects and configures baseline backends
type BaselineConfig struct {
	Provider string         `yaml:"provider"`
	Local    LocalConfig    `yaml:"local"`
	Figma    FigmaMCPConfig `yaml:"figma"`
}

// LocalConfig configures the filesystem backend
type LocalConfig struct {
	BaseDir string `yaml:"base_dir"`
}

// FigmaMCPConfig configures the design-tool backend
type FigmaMCPConfig struct {
	FileKey string        `yaml:"file_key"`
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args,omitempty"`
	Env     []string      `yaml:"env,omitempty"`
	Tool    string        `yaml:"tool"`
	Scale   float64       `yaml:"scale"`
	Timeout time.Duration `yaml:"timeout"`
	// Version pins the recorded design version; empty takes it from the tool
	Version string `yaml:"version,omitempty"`
}

// LLMConfig holds analysis settings
type LLMConfig struct {
	Enabled      bool                      `yaml:"enabled"`
	Model        string                    `yaml:"model"`
	APIKey       string                    `yaml:"api_key,omitempty"`
	BaseURL      string                    `yaml:"base_url,omitempty"`
	Timeout      time.Duration             `yaml:"timeout"`
	MaxTokens    int                       `yaml:"max_tokens"`
	Endpoints    map[string]EndpointConfig `yaml:"endpoints,omitempty"`
	CostControl  CostControlConfig         `yaml:"cost_control"`
	Fallback     FallbackConfig            `yaml:"fallback"`
	SuggestFixes bool                      `yaml:"suggest_fixes"`
}

// EndpointConfig overrides LLM settings for one operation (analyze, suggest)
type EndpointConfig struct {
	Model     string        `yaml:"model,omitempty"`
	APIKey    string        `yaml:"api_key,omitempty"`
	BaseURL   string        `yaml:"base_url,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	MaxTokens int           `yaml:"max_tokens,omitempty"`
}

// CostControlConfig bounds LLM spending per run
type CostControlConfig struct {
	MaxCallsPerRun int           `yaml:"max_calls_per_run"`
	DiffThreshold  float64       `yaml:"diff_threshold"` // minimum mismatch percentage worth analysing
	MaxCostUSD     float64       `yaml:"max_cost_usd"`
	CacheEnabled   bool          `yaml:"cache_enabled"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	CachePersist   bool          `yaml:"cache_persist"`
}

// FallbackConfig controls behaviour when an LLM call fails
type FallbackConfig struct {
	Strategy         string        `yaml:"strategy"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	RuleBasedEnabled bool          `yaml:"rule_based_enabled"`
}

// ConcurrencyConfig bounds task parallelism
type ConcurrencyConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
}

// TargetConfig declares a component or page under test
type TargetConfig struct {
	Name     string          `yaml:"name"`
	Type     string          `yaml:"type"`
	URL      string          `yaml:"url,omitempty"`
	Variants []VariantConfig `yaml:"variants"`
}

// VariantConfig declares one state of a target
type VariantConfig struct {
	Name         string               `yaml:"name"`
	URL          string               `yaml:"url,omitempty"`
	Baseline     types.BaselineSource `yaml:"baseline"`
	Selector     string               `yaml:"selector,omitempty"`
	WaitSelector string               `yaml:"wait_selector,omitempty"`
	Threshold    *float64             `yaml:"threshold,omitempty"`
	Viewport     *types.Viewport      `yaml:"viewport,omitempty"`
}

// DefaultConfig returns a new config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Directories: DirectoriesConfig{
			Baselines: ".vrt/baselines",
			Actuals:   ".vrt/actuals",
			Diffs:     ".vrt/diffs",
			Cache:     ".vrt/cache",
		},
		Server: ServerConfig{
			URL: "http://localhost:6006",
		},
		Screenshot: ScreenshotConfig{
			Browsers:   []string{"chromium"},
			Headless:   true,
			Viewport:   types.Viewport{Width: 1280, Height: 720, DeviceScaleFactor: 1},
			Timeout:    30 * time.Second,
			Retries:    3,
			RetryDelay: time.Second,
			Pool: PoolConfig{
				MaxPages:       4,
				MaxIdle:        2,
				AcquireTimeout: 30 * time.Second,
			},
			Stability: StabilityConfig{
				DisableAnimations:  true,
				WaitForNetworkIdle: true,
				NetworkIdleTimeout: 5 * time.Second,
				WaitForAnimations:  true,
				AnimationTimeout:   3 * time.Second,
				MaskColor:          "#FF00FF",
				Consistency: ConsistencyConfig{
					Attempts:  1,
					Delay:     200 * time.Millisecond,
					Threshold: 0.001,
				},
			},
		},
		Comparison: ComparisonConfig{
			Threshold:      0.01,
			ColorThreshold: 0.1,
			Antialiasing:   true,
		},
		Baseline: BaselineConfig{
			Provider: BaselineLocal,
			Local:    LocalConfig{BaseDir: "."},
			Figma: FigmaMCPConfig{
				Tool:    "download_figma_images",
				Scale:   2,
				Timeout: 60 * time.Second,
			},
		},
		LLM: LLMConfig{
			Enabled:   false,
			Model:     "gpt-4o-mini",
			Timeout:   60 * time.Second,
			MaxTokens: 1500,
			CostControl: CostControlConfig{
				MaxCallsPerRun: 10,
				DiffThreshold:  0.5,
				CacheEnabled:   true,
				CacheTTL:       7 * 24 * time.Hour,
			},
			Fallback: FallbackConfig{
				Strategy:         FallbackRetry,
				MaxRetries:       2,
				RetryDelay:       2 * time.Second,
				RuleBasedEnabled: true,
			},
		},
		Concurrency: ConcurrencyConfig{
			MaxConcurrent: 4,
			TaskTimeout:   2 * time.Minute,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return NewValidationError("server.url is required")
	}
	if len(c.Screenshot.Browsers) == 0 {
		return NewValidationError("screenshot.browsers must list at least one engine")
	}
	if c.Comparison.Threshold < 0 || c.Comparison.Threshold > 1 {
		return NewValidationError("comparison.threshold must be between 0 and 1")
	}
	if c.Comparison.ColorThreshold < 0 || c.Comparison.ColorThreshold > 1 {
		return NewValidationError("comparison.color_threshold must be between 0 and 1")
	}

	switch c.Baseline.Provider {
	case BaselineLocal, BaselineFigmaMCP:
	default:
		return NewValidationError("baseline.provider must be local or figma-mcp, got: " + c.Baseline.Provider)
	}

	switch c.LLM.Fallback.Strategy {
	case FallbackRetry, FallbackRuleBased, FallbackSkip:
	default:
		return NewValidationError("llm.fallback.strategy must be retry, rule-based or skip, got: " + c.LLM.Fallback.Strategy)
	}

	if c.Concurrency.MaxConcurrent < 1 {
		return NewValidationError("concurrency.max_concurrent must be at least 1")
	}

	seen := make(map[string]bool)
	for i, t := range c.Targets {
		if t.Name == "" {
			return NewValidationError(fmt.Sprintf("targets[%d].name is required", i))
		}
		if seen[t.Name] {
			return NewValidationError("duplicate target name: " + t.Name)
		}
		seen[t.Name] = true
		if strings.Contains(t.Name, "@") {
			return NewValidationError("target names may not contain '@': " + t.Name)
		}
		for j, v := range t.Variants {
			if v.Name == "" {
				return NewValidationError(fmt.Sprintf("targets[%d].variants[%d].name is required", i, j))
			}
			if v.Baseline.Path == "" && v.Baseline.Type == "" {
				return NewValidationError(fmt.Sprintf("%s/%s: baseline is required", t.Name, v.Name))
			}
			if v.Threshold != nil && (*v.Threshold < 0 || *v.Threshold > 1) {
				return NewValidationError(fmt.Sprintf("%s/%s: threshold must be between 0 and 1", t.Name, v.Name))
			}
		}
	}

	return nil
}

// Endpoint resolves the effective settings for one LLM operation
func (c *LLMConfig) Endpoint(name string) EndpointConfig {
	ep := EndpointConfig{
		Model:     c.Model,
		APIKey:    c.APIKey,
		BaseURL:   c.BaseURL,
		Timeout:   c.Timeout,
		MaxTokens: c.MaxTokens,
	}

	override, ok := c.Endpoints[name]
	if !ok {
		return ep
	}
	if override.Model != "" {
		ep.Model = override.Model
	}
	if override.APIKey != "" {
		ep.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		ep.BaseURL = override.BaseURL
	}
	if override.Timeout > 0 {
		ep.Timeout = override.Timeout
	}
	if override.MaxTokens > 0 {
		ep.MaxTokens = override.MaxTokens
	}
	return ep
}

// FindTarget returns the named target or nil
func (c *Config) FindTarget(name string) *TargetConfig {
	for i := range c.Targets {
		if c.Targets[i].Name == name {
			return &c.Targets[i]
		}
	}
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "config validation error: " + e.Message
}

// NewValidationError creates a new validation error
func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}
