// Package compactor trims a session's turn history down to a model context
// that fits a token budget. Survivor order always matches the original
// append order; the summary strategy may prepend one synthesized turn but
// never reorders what it keeps.
package compactor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aide-ai/aide/internal/observability"
	"github.com/aide-ai/aide/pkg/session"
)

// Strategy names accepted by Compact.
const (
	StrategyRecent   = "recent"
	StrategySummary  = "summary"
	StrategyPriority = "priority"
)

// Summarizer collapses a run of turns into prose. The summary strategy
// routes this through the model invoker.
type Summarizer interface {
	Summarize(ctx context.Context, turns []session.Turn) (string, error)
}

// Compactor applies a compaction strategy to turn histories.
type Compactor struct {
	summarizer Summarizer
	// priorityFraction is the share of the budget reserved for turns
	// flagged Priority under the priority strategy.
	priorityFraction float64
	logger           zerolog.Logger
}

// Option configures a Compactor.
type Option func(*Compactor)

// WithSummarizer installs the summarization backend used by the summary
// strategy. Without one the summary strategy degrades to recent.
func WithSummarizer(s Summarizer) Option {
	return func(c *Compactor) { c.summarizer = s }
}

// WithPriorityFraction overrides the reserved priority share (default 0.5).
func WithPriorityFraction(f float64) Option {
	return func(c *Compactor) {
		if f > 0 && f < 1 {
			c.priorityFraction = f
		}
	}
}

// New creates a Compactor.
func New(logger zerolog.Logger, opts ...Option) *Compactor {
	observability.EnsureRegistered()

	c := &Compactor{
		priorityFraction: 0.5,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compact returns the turns that fit tokenBudget under the given strategy,
// plus a human-readable warning when something noteworthy happened. It
// never returns an empty context for a non-empty history: a single
// most-recent turn over budget is retained anyway and flagged.
func (c *Compactor) Compact(ctx context.Context, turns []session.Turn, tokenBudget int, strategy string) ([]session.Turn, string) {
	if len(turns) == 0 || tokenBudget <= 0 {
		return append([]session.Turn(nil), turns...), ""
	}

	var (
		kept    []session.Turn
		warning string
	)

	switch strategy {
	case StrategySummary:
		kept, warning = c.compactSummary(ctx, turns, tokenBudget)
	case StrategyPriority:
		kept, warning = c.compactPriority(turns, tokenBudget)
	default:
		kept, warning = c.compactRecent(turns, tokenBudget)
	}

	dropped := len(turns) - len(kept)
	if dropped < 0 {
		dropped = 0
	}
	observability.RecordCompaction(strategy, dropped)

	if dropped > 0 {
		c.logger.Debug().
			Str("strategy", strategy).
			Int("dropped", dropped).
			Int("kept", len(kept)).
			Msg("Context compacted")
	}

	return kept, warning
}

// compactRecent fills the budget newest-first and returns survivors in
// original order.
func (c *Compactor) compactRecent(turns []session.Turn, budget int) ([]session.Turn, string) {
	total := 0
	cut := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := turnCost(turns[i])
		if total+cost > budget {
			break
		}
		total += cost
		cut = i
	}

	if cut == len(turns) {
		// Even the newest turn alone is over budget. Keep it anyway.
		last := turns[len(turns)-1]
		warning := fmt.Sprintf("turn %s exceeds the context budget (%d > %d tokens); retained as sole context", last.ID, turnCost(last), budget)
		c.logger.Warn().Str("turn_id", last.ID).Int("budget", budget).Msg("Single turn over context budget")
		return []session.Turn{last}, warning
	}

	return append([]session.Turn(nil), turns[cut:]...), ""
}

// compactSummary keeps what fits newest-first and folds the displaced
// oldest block into one synthesized system turn.
func (c *Compactor) compactSummary(ctx context.Context, turns []session.Turn, budget int) ([]session.Turn, string) {
	if totalCost(turns) <= budget {
		return append([]session.Turn(nil), turns...), ""
	}

	recent, warning := c.compactRecent(turns, budget)
	if c.summarizer == nil {
		return recent, joinWarnings(warning, "no summarizer configured; dropped turns were not summarized")
	}

	cut := len(turns) - len(recent)
	if cut == 0 {
		return recent, warning
	}

	// The summary turn consumes budget too, so fitting it can displace more
	// turns. Every displaced turn must end up inside the summarized block,
	// which means re-summarizing when the cut moves; the cut only moves
	// forward, so this settles quickly.
	var summary session.Turn
	for {
		text, err := c.summarizer.Summarize(ctx, turns[:cut])
		if err != nil {
			c.logger.Warn().Err(err).Int("turns", cut).Msg("Summarization failed, falling back to recent")
			return recent, joinWarnings(warning, fmt.Sprintf("summarization failed: %v", err))
		}
		summary = session.Turn{
			Role:      session.RoleSystem,
			Content:   "Conversation summary: " + text,
			TokenCost: estimateTokens(text) + 4,
			Synthetic: true,
		}
		if totalCost(turns[cut:])+turnCost(summary) <= budget || cut >= len(turns)-1 {
			break
		}
		for cut < len(turns)-1 && totalCost(turns[cut:])+turnCost(summary) > budget {
			cut++
		}
	}

	if totalCost(turns[cut:])+turnCost(summary) > budget {
		// Only the newest turn is left and a summary does not fit next to
		// it. Keep the turn, drop the summary.
		last := turns[len(turns)-1]
		return []session.Turn{last}, joinWarnings(warning,
			fmt.Sprintf("turn %s leaves no room for a summary within the context budget (%d tokens)", last.ID, budget))
	}

	out := make([]session.Turn, 0, len(turns)-cut+1)
	out = append(out, summary)
	out = append(out, turns[cut:]...)
	return out, warning
}

// compactPriority reserves a sub-budget for priority turns, then fills the
// remainder most-recent-first with the rest. Survivors keep append order.
func (c *Compactor) compactPriority(turns []session.Turn, budget int) ([]session.Turn, string) {
	if totalCost(turns) <= budget {
		return append([]session.Turn(nil), turns...), ""
	}

	reserved := int(float64(budget) * c.priorityFraction)

	keep := make(map[int]bool, len(turns))
	prioritySpent := 0
	for i := len(turns) - 1; i >= 0; i-- {
		if !turns[i].Priority {
			continue
		}
		cost := turnCost(turns[i])
		if prioritySpent+cost > reserved {
			continue
		}
		prioritySpent += cost
		keep[i] = true
	}

	remaining := budget - prioritySpent
	for i := len(turns) - 1; i >= 0; i-- {
		if keep[i] {
			continue
		}
		cost := turnCost(turns[i])
		if cost > remaining {
			continue
		}
		remaining -= cost
		keep[i] = true
	}

	out := make([]session.Turn, 0, len(keep))
	for i, t := range turns {
		if keep[i] {
			out = append(out, t)
		}
	}

	if len(out) == 0 {
		return c.compactRecent(turns, budget)
	}
	return out, ""
}

// turnCost reports a turn's token cost, estimating from content length
// when the provider did not report usage.
func turnCost(t session.Turn) int {
	if t.TokenCost > 0 {
		return t.TokenCost
	}
	return estimateTokens(t.Content)
}

func estimateTokens(content string) int {
	n := len(content)/4 + 1
	return n
}

func totalCost(turns []session.Turn) int {
	total := 0
	for _, t := range turns {
		total += turnCost(t)
	}
	return total
}

func joinWarnings(parts ...string) string {
	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "; ")
}
