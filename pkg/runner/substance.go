package runner

import "strings"

// technicalIndicators lists terms a technical agent's reply should touch
// before it counts as a substantial contribution.
var technicalIndicators = map[string][]string{
	"frontend": {"javascript", "framework", "component", "interaction", "functionality", "implementation"},
	"data":     {"database", "storage", "data", "schema", "table", "model"},
	"api":      {"endpoint", "api", "rest", "backend", "route", "request", "response"},
	"devops":   {"deployment", "hosting", "server", "cloud", "domain", "ssl", "environment"},
}

// earlyAgents accept most meaningful replies; they work in prose before
// anything technical exists.
var earlyAgents = map[string]bool{
	"requirements": true,
	"ux":           true,
	"ui":           true,
}

// agentStateSubstantial is the per-agent state key recording a
// substantial contribution.
const agentStateSubstantial = "substantial"

// HasSubstance reports whether an agent reply carries a real contribution
// rather than a bare clarifying question or filler.
func HasSubstance(agentID, content string) bool {
	clean := strings.TrimSpace(content)
	if len(clean) < 25 {
		return false
	}

	lower := strings.ToLower(clean)

	if earlyAgents[agentID] {
		pureQuestion := strings.HasSuffix(clean, "?") &&
			len(clean) < 80 &&
			containsAny(lower, []string{"what would", "can you", "please provide", "could you tell me"})
		return len(clean) >= 30 && !pureQuestion
	}

	indicators, ok := technicalIndicators[agentID]
	if !ok {
		return len(clean) >= 30
	}
	return len(clean) >= 40 && containsAny(lower, indicators)
}

// ReadyForGeneration reports whether enough of the ensemble has made
// substantial contributions to hand the session off to generation.
func ReadyForGeneration(agentState map[string]map[string]string) bool {
	substantial := 0
	requirementsDone := false
	for agentID, kv := range agentState {
		if kv[agentStateSubstantial] != "true" {
			continue
		}
		substantial++
		if agentID == "requirements" {
			requirementsDone = true
		}
	}

	return substantial >= 3 || (requirementsDone && substantial >= 2)
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
