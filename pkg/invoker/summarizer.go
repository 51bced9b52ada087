package invoker

import (
	"context"
	"fmt"
	"strings"

	"github.com/aide-ai/aide/pkg/session"
)

const summarySystemPrompt = "You condense conversation history. Summarize the " +
	"following turns into a short paragraph that preserves decisions, " +
	"requirements and open points. Reply with the summary only."

// Summarizer produces conversation summaries through the retry-wrapped
// invoker. It satisfies the compaction layer's summarization contract.
type Summarizer struct {
	invoker   *Invoker
	model     string
	maxTokens int
}

// NewSummarizer creates a Summarizer targeting the given model.
func NewSummarizer(inv *Invoker, model string) *Summarizer {
	return &Summarizer{
		invoker:   inv,
		model:     model,
		maxTokens: 512,
	}
}

// Summarize collapses the given turns into one short paragraph.
func (s *Summarizer) Summarize(ctx context.Context, turns []session.Turn) (string, error) {
	var b strings.Builder
	for _, turn := range turns {
		label := string(turn.Role)
		if turn.AgentID != "" {
			label = turn.AgentID
		}
		fmt.Fprintf(&b, "[%s] %s\n", label, turn.Content)
	}

	resp, err := s.invoker.Invoke(ctx, Request{
		Model:       s.model,
		System:      summarySystemPrompt,
		Messages:    []Message{{Role: RoleUser, Content: b.String()}},
		Temperature: 0.3,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarization call failed: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}
