package config

import (
	"time"
)

// Config represents the main AIDE configuration
type Config struct {
	// Agent chain, in execution order
	Chain []AgentConfig `json:"chain" mapstructure:"chain"`

	// Session limits and lifecycle
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Retry policy for model invocations
	Retry RetryConfig `json:"retry" mapstructure:"retry"`

	// Model provider profiles
	Providers []ProviderProfile `json:"providers" mapstructure:"providers"`

	// Completion signal detection
	Completion CompletionConfig `json:"completion" mapstructure:"completion"`

	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Snapshot database path (SQLite). Empty disables persistence.
	SnapshotPath string `json:"snapshot_path" mapstructure:"snapshot_path"`
}

// AgentConfig describes one agent in the chain.
type AgentConfig struct {
	ID                 string  `json:"id" mapstructure:"id"`
	Ordinal            int     `json:"ordinal" mapstructure:"ordinal"`
	PromptTemplate     string  `json:"prompt_template" mapstructure:"prompt_template"`
	Temperature        float64 `json:"temperature" mapstructure:"temperature"`
	MaxOutputTokens    int     `json:"max_output_tokens" mapstructure:"max_output_tokens"`
	ContextTokenBudget int     `json:"context_token_budget" mapstructure:"context_token_budget"`
}

// SessionConfig holds session limits and lifecycle settings.
type SessionConfig struct {
	MaxMessages         int           `json:"max_messages" mapstructure:"max_messages"`
	ContextWindowTokens int           `json:"context_window_tokens" mapstructure:"context_window_tokens"`
	CompactionStrategy  string        `json:"compaction_strategy" mapstructure:"compaction_strategy"` // recent, summary, priority
	RetentionDuration   time.Duration `json:"retention_duration" mapstructure:"retention_duration"`
	SweepInterval       time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
	LockWait            time.Duration `json:"lock_wait" mapstructure:"lock_wait"`
	BusyPolicy          string        `json:"busy_policy" mapstructure:"busy_policy"`           // block, reject
	CompletedPolicy     string        `json:"completed_policy" mapstructure:"completed_policy"` // reset, reject
}

// RetryConfig holds the model invocation retry policy.
type RetryConfig struct {
	MaxRetries        int           `json:"max_retries" mapstructure:"max_retries"`
	BackoffFactor     float64       `json:"backoff_factor" mapstructure:"backoff_factor"`
	BackoffCeiling    time.Duration `json:"backoff_ceiling" mapstructure:"backoff_ceiling"`
	RetryableStatuses []int         `json:"retryable_statuses" mapstructure:"retryable_statuses"`
}

// ProviderProfile represents credentials for one model backend.
type ProviderProfile struct {
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model" mapstructure:"model"`
}

// CompletionConfig configures the chain advancement predicate.
type CompletionConfig struct {
	Marker   string   `json:"marker" mapstructure:"marker"`
	Keywords []string `json:"keywords" mapstructure:"keywords"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the default configuration. The chain mirrors the
// seven-phase development ensemble the system ships with.
func DefaultConfig() *Config {
	return &Config{
		Chain:   DefaultChain(),
		Session: DefaultSessionConfig(),
		Retry: RetryConfig{
			MaxRetries:        3,
			BackoffFactor:     1.0,
			BackoffCeiling:    30 * time.Second,
			RetryableStatuses: []int{429, 500, 503},
		},
		Completion: CompletionConfig{
			Marker: "<!--handoff-->",
			Keywords: []string{
				"approved", "perfect", "looks good", "proceed",
				"move forward", "next phase", "go ahead", "sounds good",
			},
		},
		Gateway: GatewayConfig{
			Host: "localhost",
			Port: 8765,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}

// DefaultSessionConfig returns default session limits.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxMessages:         50,
		ContextWindowTokens: 4096,
		CompactionStrategy:  "recent",
		RetentionDuration:   time.Hour,
		SweepInterval:       5 * time.Minute,
		LockWait:            10 * time.Second,
		BusyPolicy:          "block",
		CompletedPolicy:     "reject",
	}
}

// DefaultChain returns the built-in agent chain in execution order.
func DefaultChain() []AgentConfig {
	specs := []struct {
		id     string
		prompt string
	}{
		{"requirements", promptRequirements},
		{"ux", promptUX},
		{"ui", promptUI},
		{"frontend", promptFrontend},
		{"data", promptData},
		{"api", promptAPI},
		{"devops", promptDevOps},
	}

	chain := make([]AgentConfig, 0, len(specs))
	for i, s := range specs {
		chain = append(chain, AgentConfig{
			ID:                 s.id,
			Ordinal:            i,
			PromptTemplate:     s.prompt,
			Temperature:        0.7,
			MaxOutputTokens:    2000,
			ContextTokenBudget: 4096,
		})
	}
	return chain
}

const (
	promptRequirements = `You are the Requirements agent. Understand what the user wants to build:
key features, target users, and technical constraints. Ask clarifying
questions. When requirements are settled, end your reply with <!--handoff-->.`

	promptUX = `You are the UX agent. Design the user experience: navigation, user flows,
page structure, and information architecture. Do not write code. When the
experience is settled, end your reply with <!--handoff-->.`

	promptUI = `You are the UI agent. Define the visual design: color schemes, typography,
layout, and style. Do not write code. When the design is settled, end your
reply with <!--handoff-->.`

	promptFrontend = `You are the Frontend agent. Discuss technical implementation: frameworks,
interactive features, performance, and browser support. Do not write code.
When the approach is settled, end your reply with <!--handoff-->.`

	promptData = `You are the Data agent. Design storage: data types, schema, relationships,
and privacy considerations. When the data design is settled, end your reply
with <!--handoff-->.`

	promptAPI = `You are the API agent. Design the backend surface: endpoints, auth, and
data formats. When the API design is settled, end your reply with
<!--handoff-->.`

	promptDevOps = `You are the DevOps agent. Plan deployment: hosting platform, domains,
environments, and scaling. When the plan is settled, end your reply with
<!--handoff-->.`
)
