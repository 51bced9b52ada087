package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aide-ai/aide/internal/config"
)

func testChain() []config.AgentConfig {
	return []config.AgentConfig{
		{ID: "requirements", Ordinal: 0, PromptTemplate: "p0", Temperature: 0.5},
		{ID: "ux", Ordinal: 1, PromptTemplate: "p1", Temperature: 0.5},
		{ID: "ui", Ordinal: 2, PromptTemplate: "p2", Temperature: 0.5},
	}
}

func TestLoad(t *testing.T) {
	r, err := Load(testChain())
	require.NoError(t, err)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"requirements", "ux", "ui"}, r.Chain())
	assert.Equal(t, "requirements", r.First())
}

func TestLoad_SortsByOrdinal(t *testing.T) {
	shuffled := []config.AgentConfig{
		{ID: "ui", Ordinal: 2, PromptTemplate: "p", Temperature: 0.5},
		{ID: "requirements", Ordinal: 0, PromptTemplate: "p", Temperature: 0.5},
		{ID: "ux", Ordinal: 1, PromptTemplate: "p", Temperature: 0.5},
	}

	r, err := Load(shuffled)
	require.NoError(t, err)
	assert.Equal(t, []string{"requirements", "ux", "ui"}, r.Chain())
}

func TestLoad_FailsFastOnMalformedChain(t *testing.T) {
	bad := testChain()
	bad[2].Ordinal = 0

	_, err := Load(bad)
	assert.Error(t, err)

	_, err = Load(nil)
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	r, err := Load(testChain())
	require.NoError(t, err)

	spec, err := r.Resolve("ux")
	require.NoError(t, err)
	assert.Equal(t, 1, spec.Ordinal)
	assert.Equal(t, "p1", spec.PromptTemplate)

	_, err = r.Resolve("missing")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestNext(t *testing.T) {
	r, err := Load(testChain())
	require.NoError(t, err)

	next, ok := r.Next("requirements")
	assert.True(t, ok)
	assert.Equal(t, "ux", next)

	next, ok = r.Next("ux")
	assert.True(t, ok)
	assert.Equal(t, "ui", next)

	_, ok = r.Next("ui")
	assert.False(t, ok, "last agent has no successor")

	_, ok = r.Next("missing")
	assert.False(t, ok)
}

func TestAt(t *testing.T) {
	r, err := Load(testChain())
	require.NoError(t, err)

	spec, err := r.At(0)
	require.NoError(t, err)
	assert.Equal(t, "requirements", spec.ID)

	_, err = r.At(3)
	assert.ErrorIs(t, err, ErrUnknownAgent)

	_, err = r.At(-1)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestSwap(t *testing.T) {
	r, err := Load(testChain())
	require.NoError(t, err)

	replacement := []config.AgentConfig{
		{ID: "solo", Ordinal: 0, PromptTemplate: "p", Temperature: 0.5},
	}
	require.NoError(t, r.Swap(replacement))
	assert.Equal(t, []string{"solo"}, r.Chain())

	// Rejected swap keeps the current registry.
	err = r.Swap(nil)
	assert.Error(t, err)
	assert.Equal(t, []string{"solo"}, r.Chain())
}
