// Package chain holds the immutable agent registry: the ordered ensemble of
// specialized agents a session progresses through.
//
// Invariants:
//   - The chain is a total order: ordinals are unique and gapless.
//   - A loaded registry is never mutated; hot reload swaps the whole registry
//     behind an atomic pointer, so in-flight reads never observe a partial
//     update.
//   - Unresolvable identifiers fail at load time, never at request time.
package chain

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/aide-ai/aide/internal/config"
)

// ErrUnknownAgent is returned when an agent identifier does not resolve.
var ErrUnknownAgent = errors.New("unknown agent")

// AgentSpec describes one agent's invocation parameters.
type AgentSpec struct {
	ID                 string
	Ordinal            int
	PromptTemplate     string
	Temperature        float64
	MaxOutputTokens    int
	ContextTokenBudget int
}

// Registry is the loaded agent chain. It is read-only after Load; the Swap
// method replaces the entire contents atomically.
type Registry struct {
	current atomic.Pointer[snapshot]
}

type snapshot struct {
	specs map[string]AgentSpec
	order []string
}

// Load builds a registry from configuration, failing fast on a malformed
// chain.
func Load(chain []config.AgentConfig) (*Registry, error) {
	snap, err := buildSnapshot(chain)
	if err != nil {
		return nil, err
	}

	r := &Registry{}
	r.current.Store(snap)
	return r, nil
}

// Swap atomically replaces the registry contents. A malformed replacement
// chain is rejected and the previous contents stay live.
func (r *Registry) Swap(chain []config.AgentConfig) error {
	snap, err := buildSnapshot(chain)
	if err != nil {
		return err
	}

	r.current.Store(snap)
	return nil
}

func buildSnapshot(chain []config.AgentConfig) (*snapshot, error) {
	if err := config.NewValidator().ValidateChain(chain); err != nil {
		return nil, err
	}

	sorted := make([]config.AgentConfig, len(chain))
	copy(sorted, chain)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })

	snap := &snapshot{
		specs: make(map[string]AgentSpec, len(sorted)),
		order: make([]string, 0, len(sorted)),
	}

	for _, a := range sorted {
		snap.specs[a.ID] = AgentSpec{
			ID:                 a.ID,
			Ordinal:            a.Ordinal,
			PromptTemplate:     a.PromptTemplate,
			Temperature:        a.Temperature,
			MaxOutputTokens:    a.MaxOutputTokens,
			ContextTokenBudget: a.ContextTokenBudget,
		}
		snap.order = append(snap.order, a.ID)
	}

	return snap, nil
}

// Resolve returns the configured agent for an identifier.
func (r *Registry) Resolve(agentID string) (AgentSpec, error) {
	snap := r.current.Load()
	spec, ok := snap.specs[agentID]
	if !ok {
		return AgentSpec{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return spec, nil
}

// Chain returns the agent identifiers in execution order.
func (r *Registry) Chain() []string {
	snap := r.current.Load()
	out := make([]string, len(snap.order))
	copy(out, snap.order)
	return out
}

// Next returns the agent following agentID in the chain, or ok=false if
// agentID is last.
func (r *Registry) Next(agentID string) (string, bool) {
	snap := r.current.Load()
	spec, exists := snap.specs[agentID]
	if !exists {
		return "", false
	}

	for i, id := range snap.order {
		if id == spec.ID && i+1 < len(snap.order) {
			return snap.order[i+1], true
		}
	}
	return "", false
}

// At returns the agent at a chain position.
func (r *Registry) At(pos int) (AgentSpec, error) {
	snap := r.current.Load()
	if pos < 0 || pos >= len(snap.order) {
		return AgentSpec{}, fmt.Errorf("%w: position %d", ErrUnknownAgent, pos)
	}
	return snap.specs[snap.order[pos]], nil
}

// Len returns the chain length.
func (r *Registry) Len() int {
	return len(r.current.Load().order)
}

// First returns the first agent identifier in the chain.
func (r *Registry) First() string {
	return r.current.Load().order[0]
}
