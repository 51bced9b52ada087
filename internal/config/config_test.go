package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Len(t, cfg.Chain, 7)
	assert.Equal(t, "requirements", cfg.Chain[0].ID)
	assert.Equal(t, "devops", cfg.Chain[6].ID)

	for i, a := range cfg.Chain {
		assert.Equal(t, i, a.Ordinal)
		assert.NotEmpty(t, a.PromptTemplate)
		assert.Equal(t, 2000, a.MaxOutputTokens)
	}

	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 1.0, cfg.Retry.BackoffFactor)
	assert.Equal(t, []int{429, 500, 503}, cfg.Retry.RetryableStatuses)

	assert.Equal(t, 50, cfg.Session.MaxMessages)
	assert.Equal(t, "recent", cfg.Session.CompactionStrategy)
	assert.Equal(t, time.Hour, cfg.Session.RetentionDuration)
}

func TestDefaultConfig_PassesValidation(t *testing.T) {
	assert.NoError(t, NewValidator().Validate(DefaultConfig()))
}

func TestDefaultChain_PromptsCarryHandoffMarker(t *testing.T) {
	for _, a := range DefaultChain() {
		assert.Contains(t, a.PromptTemplate, "<!--handoff-->", "agent %s", a.ID)
	}
}
