package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"
)

// configSchema constrains the raw config document before it is unmarshalled,
// so obviously malformed files fail with a field-level message instead of a
// mapstructure error deep inside viper.
const configSchema = `{
	"type": "object",
	"properties": {
		"chain": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"ordinal": {"type": "integer", "minimum": 0},
					"prompt_template": {"type": "string"},
					"temperature": {"type": "number", "minimum": 0, "maximum": 1},
					"max_output_tokens": {"type": "integer", "minimum": 0},
					"context_token_budget": {"type": "integer", "minimum": 0}
				},
				"required": ["id"]
			}
		},
		"session": {
			"type": "object",
			"properties": {
				"max_messages": {"type": "integer", "minimum": 1},
				"context_window_tokens": {"type": "integer", "minimum": 1},
				"compaction_strategy": {"enum": ["recent", "summary", "priority"]},
				"busy_policy": {"enum": ["block", "reject"]},
				"completed_policy": {"enum": ["reset", "reject"]}
			}
		},
		"retry": {
			"type": "object",
			"properties": {
				"max_retries": {"type": "integer", "minimum": 0},
				"backoff_factor": {"type": "number", "minimum": 0},
				"retryable_statuses": {"type": "array", "items": {"type": "integer"}}
			}
		},
		"providers": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"provider": {"enum": ["anthropic", "openai"]},
					"api_key": {"type": "string"},
					"model": {"type": "string"}
				},
				"required": ["provider"]
			}
		}
	}
}`

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file, falling back to defaults when the
// file does not exist. A malformed chain fails here, never at request time.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".aide", "aide.json")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := l.applyDefaults(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := validateDocument(raw); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetEnvPrefix("AIDE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.applyDefaults(cfg); err != nil {
		return nil, err
	}

	if err := NewValidator().Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills in derived paths and inherited limits.
func (l *Loader) applyDefaults(cfg *Config) error {
	// Agents without their own context budget inherit the session window.
	for i := range cfg.Chain {
		if cfg.Chain[i].ContextTokenBudget == 0 {
			cfg.Chain[i].ContextTokenBudget = cfg.Session.ContextWindowTokens
		}
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".aide")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "aide.log")
	}

	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = filepath.Join(cfg.DataDir, "sessions.db")
	}

	return nil
}

func validateDocument(raw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config document: %w", err)
	}

	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("invalid config document: %s", strings.Join(msgs, "; "))
	}

	return nil
}
