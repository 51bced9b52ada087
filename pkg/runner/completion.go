package runner

import "strings"

// CompletionPredicate decides whether an agent's reply signals that its
// phase is done and the chain may advance. A structured marker in the
// reply wins; a configurable approval-keyword match is the fallback.
type CompletionPredicate struct {
	marker   string
	keywords []string
}

// NewCompletionPredicate builds the predicate from config.
func NewCompletionPredicate(marker string, keywords []string) CompletionPredicate {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	return CompletionPredicate{marker: marker, keywords: lowered}
}

// Matches reports whether the reply carries a completion signal for the
// given agent.
func (p CompletionPredicate) Matches(content, agentID string) bool {
	if p.marker != "" && strings.Contains(content, p.marker) {
		return true
	}

	lower := strings.ToLower(content)

	if agentID != "" && strings.Contains(lower, "[done:"+strings.ToLower(agentID)+"]") {
		return true
	}

	for _, kw := range p.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
