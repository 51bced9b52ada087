package session

import "sync"

// Guard is the handle to a session's exclusive section. All mutations that
// belong to a single runner cycle go through one Guard, so interleaved
// appends from concurrent callers cannot corrupt turn ordering. Release
// must be called exactly when the cycle ends; it is idempotent.
type Guard struct {
	store *Store
	entry *entry
	once  sync.Once
}

// Session returns the live session. The pointer is only valid while the
// guard is held.
func (g *Guard) Session() *Session {
	return g.entry.sess
}

// Append appends a turn, assigning id and timestamp when absent, and
// renews the retention deadline.
func (g *Guard) Append(turn Turn) Turn {
	return g.store.append(g.entry.sess, turn)
}

// ReplaceTurns substitutes the full turn sequence. Used by compaction;
// relative order of the retained turns is the caller's responsibility.
func (g *Guard) ReplaceTurns(turns []Turn) {
	g.entry.sess.Turns = turns
	g.touch()
}

// SetPos moves the chain position.
func (g *Guard) SetPos(pos int) {
	g.entry.sess.ChainPos = pos
	g.touch()
}

// SetStatus sets the lifecycle status.
func (g *Guard) SetStatus(status Status) {
	g.entry.sess.Status = status
	g.touch()
}

// SetAgentState records a per-agent scratch value.
func (g *Guard) SetAgentState(agentID, key, value string) {
	sess := g.entry.sess
	if sess.AgentState == nil {
		sess.AgentState = make(map[string]map[string]string)
	}
	if sess.AgentState[agentID] == nil {
		sess.AgentState[agentID] = make(map[string]string)
	}
	sess.AgentState[agentID][key] = value
	g.touch()
}

// AgentState reads a per-agent scratch value.
func (g *Guard) AgentState(agentID, key string) (string, bool) {
	kv, ok := g.entry.sess.AgentState[agentID]
	if !ok {
		return "", false
	}
	v, ok := kv[key]
	return v, ok
}

// Reset clears turns, position and per-agent state while keeping the
// session alive under the same id.
func (g *Guard) Reset() {
	sess := g.entry.sess
	sess.Turns = nil
	sess.ChainPos = 0
	sess.Status = StatusIdle
	sess.AgentState = make(map[string]map[string]string)
	g.touch()
}

func (g *Guard) touch() {
	sess := g.entry.sess
	sess.LastActivity = g.store.now()
	sess.ExpiresAt = sess.LastActivity.Add(g.store.retention)
}

// Release leaves the exclusive section.
func (g *Guard) Release() {
	g.once.Do(func() {
		<-g.entry.sem
	})
}
