package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole configuration. Chain defects are startup
// failures; they must never surface as request-time errors.
func (v *Validator) Validate(cfg *Config) error {
	if err := v.ValidateChain(cfg.Chain); err != nil {
		return err
	}

	if err := v.ValidateSession(cfg.Session); err != nil {
		return err
	}

	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry: max_retries cannot be negative")
	}
	if cfg.Retry.BackoffFactor < 0 {
		return fmt.Errorf("retry: backoff_factor cannot be negative")
	}

	for i, p := range cfg.Providers {
		if err := v.ValidateProvider(p); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
	}

	return nil
}

// ValidateChain checks that the agent chain forms a total order with unique
// identifiers and resolvable prompt templates.
func (v *Validator) ValidateChain(chain []AgentConfig) error {
	if len(chain) == 0 {
		return fmt.Errorf("chain: at least one agent is required")
	}

	seenIDs := make(map[string]bool, len(chain))
	seenOrdinals := make(map[int]bool, len(chain))

	for _, a := range chain {
		if a.ID == "" {
			return fmt.Errorf("chain: agent id cannot be empty")
		}
		if seenIDs[a.ID] {
			return fmt.Errorf("chain: duplicate agent id %q", a.ID)
		}
		seenIDs[a.ID] = true

		if seenOrdinals[a.Ordinal] {
			return fmt.Errorf("chain: duplicate ordinal %d (agent %q)", a.Ordinal, a.ID)
		}
		seenOrdinals[a.Ordinal] = true

		if strings.TrimSpace(a.PromptTemplate) == "" {
			return fmt.Errorf("chain: agent %q has no prompt template", a.ID)
		}
		if a.Temperature < 0 || a.Temperature > 1 {
			return fmt.Errorf("chain: agent %q temperature must be between 0 and 1", a.ID)
		}
		if a.MaxOutputTokens < 0 {
			return fmt.Errorf("chain: agent %q max_output_tokens cannot be negative", a.ID)
		}
		if a.ContextTokenBudget < 0 {
			return fmt.Errorf("chain: agent %q context_token_budget cannot be negative", a.ID)
		}
	}

	// Ordinals must cover 0..len-1 so the chain has no gaps.
	for i := 0; i < len(chain); i++ {
		if !seenOrdinals[i] {
			return fmt.Errorf("chain: missing ordinal %d", i)
		}
	}

	return nil
}

// ValidateSession checks session limits.
func (v *Validator) ValidateSession(s SessionConfig) error {
	switch s.CompactionStrategy {
	case "recent", "summary", "priority":
	default:
		return fmt.Errorf("session: unknown compaction_strategy %q", s.CompactionStrategy)
	}

	switch s.BusyPolicy {
	case "block", "reject":
	default:
		return fmt.Errorf("session: unknown busy_policy %q", s.BusyPolicy)
	}

	switch s.CompletedPolicy {
	case "reset", "reject":
	default:
		return fmt.Errorf("session: unknown completed_policy %q", s.CompletedPolicy)
	}

	if s.MaxMessages <= 0 {
		return fmt.Errorf("session: max_messages must be positive")
	}
	if s.ContextWindowTokens <= 0 {
		return fmt.Errorf("session: context_window_tokens must be positive")
	}
	if s.RetentionDuration <= 0 {
		return fmt.Errorf("session: retention_duration must be positive")
	}

	return nil
}

// ValidateProvider checks a provider profile.
func (v *Validator) ValidateProvider(p ProviderProfile) error {
	switch p.Provider {
	case "anthropic":
		if p.APIKey != "" && !strings.HasPrefix(p.APIKey, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if p.APIKey != "" && !strings.HasPrefix(p.APIKey, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	default:
		return fmt.Errorf("unsupported provider %q", p.Provider)
	}

	return nil
}
