package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aide-ai/aide/internal/observability"
)

// Store is the in-memory session store. Exclusivity is per session id; there
// is no global lock across sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	retention time.Duration
	lockWait  time.Duration
	policy    AcquirePolicy
	logger    zerolog.Logger

	now func() time.Time
}

type entry struct {
	// sem is a 1-slot semaphore: the session's exclusive section.
	sem  chan struct{}
	sess *Session
}

// Config holds store configuration.
type Config struct {
	Retention time.Duration
	LockWait  time.Duration
	Policy    AcquirePolicy
	Logger    zerolog.Logger
}

// NewStore creates a session store.
func NewStore(cfg Config) *Store {
	observability.EnsureRegistered()

	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 10 * time.Second
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyBlock
	}

	return &Store{
		sessions:  make(map[string]*entry),
		retention: cfg.Retention,
		lockWait:  cfg.LockWait,
		policy:    cfg.Policy,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Create creates a new session, failing if the id is taken.
func (s *Store) Create(id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}

	sess := s.newSession(id)
	s.sessions[id] = &entry{
		sem:  make(chan struct{}, 1),
		sess: sess,
	}

	observability.RecordSessionCreated()
	observability.SetActiveSessions(len(s.sessions))
	s.logger.Info().Str("session_id", id).Msg("Session created")

	return copySession(sess), nil
}

// GetOrCreate returns the session for id, creating it if absent. The
// returned bool is true when the session was created by this call.
func (s *Store) GetOrCreate(id string) (*Session, bool, error) {
	if id == "" {
		return nil, false, fmt.Errorf("session id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.sessions[id]; exists {
		return copySession(e.sess), false, nil
	}

	sess := s.newSession(id)
	s.sessions[id] = &entry{
		sem:  make(chan struct{}, 1),
		sess: sess,
	}

	observability.RecordSessionCreated()
	observability.SetActiveSessions(len(s.sessions))
	s.logger.Info().Str("session_id", id).Msg("Session created")

	return copySession(sess), true, nil
}

func (s *Store) newSession(id string) *Session {
	now := s.now()
	return &Session{
		ID:           id,
		Status:       StatusIdle,
		AgentState:   make(map[string]map[string]string),
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.retention),
	}
}

// Get returns a read-only view of a session.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return copySession(e.sess), nil
}

// Acquire enters the session's exclusive section for the duration of one
// full runner cycle. Under PolicyReject a held lock fails immediately with
// ErrSessionBusy; under PolicyBlock the wait is bounded by the configured
// lock wait and fails with ErrTimeout.
func (s *Store) Acquire(ctx context.Context, id string) (*Guard, error) {
	s.mu.RLock()
	e, exists := s.sessions[id]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	switch s.policy {
	case PolicyReject:
		select {
		case e.sem <- struct{}{}:
		default:
			return nil, fmt.Errorf("%w: %s", ErrSessionBusy, id)
		}
	default:
		timer := time.NewTimer(s.lockWait)
		defer timer.Stop()

		select {
		case e.sem <- struct{}{}:
		case <-timer.C:
			return nil, fmt.Errorf("%w: %s", ErrTimeout, id)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &Guard{store: s, entry: e}, nil
}

// AppendTurn appends a turn without an outer cycle; it fails with
// ErrSessionLocked if the session's exclusive section is held.
func (s *Store) AppendTurn(id string, turn Turn) (Turn, error) {
	s.mu.RLock()
	e, exists := s.sessions[id]
	s.mu.RUnlock()

	if !exists {
		return Turn{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	select {
	case e.sem <- struct{}{}:
	default:
		return Turn{}, fmt.Errorf("%w: %s", ErrSessionLocked, id)
	}
	defer func() { <-e.sem }()

	return s.append(e.sess, turn), nil
}

func (s *Store) append(sess *Session, turn Turn) Turn {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}

	sess.Turns = append(sess.Turns, turn)
	sess.LastActivity = s.now()
	sess.ExpiresAt = sess.LastActivity.Add(s.retention)

	return turn
}

// Delete removes a session and releases its resources. It waits for an
// in-flight cycle up to the lock wait bound.
func (s *Store) Delete(id string) error {
	s.mu.RLock()
	e, exists := s.sessions[id]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrTimeout, id)
	}
	// The semaphore is never released: the session is gone.

	s.mu.Lock()
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()

	observability.SetActiveSessions(count)
	s.logger.Info().Str("session_id", id).Msg("Session deleted")

	return nil
}

// SweepExpired removes all sessions whose retention deadline has elapsed,
// returning the count removed. Sessions mid-cycle are skipped; their
// deadline was pushed forward by the activity anyway.
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.RLock()
	candidates := make([]string, 0)
	for id, e := range s.sessions {
		if !e.sess.ExpiresAt.After(now) {
			candidates = append(candidates, id)
		}
	}
	s.mu.RUnlock()

	swept := 0
	for _, id := range candidates {
		s.mu.Lock()
		e, exists := s.sessions[id]
		if !exists {
			s.mu.Unlock()
			continue
		}

		select {
		case e.sem <- struct{}{}:
		default:
			s.mu.Unlock()
			continue
		}

		// Re-check under the lock: a cycle may have renewed the deadline
		// between the scan and the acquire.
		if e.sess.ExpiresAt.After(now) {
			<-e.sem
			s.mu.Unlock()
			continue
		}

		delete(s.sessions, id)
		s.mu.Unlock()
		swept++

		s.logger.Debug().Str("session_id", id).Msg("Session swept")
	}

	if swept > 0 {
		observability.RecordSessionsSwept(swept)
		s.mu.RLock()
		observability.SetActiveSessions(len(s.sessions))
		s.mu.RUnlock()
		s.logger.Info().Int("swept", swept).Msg("Expired sessions removed")
	}

	return swept
}

// Snapshot returns the serializable form of one session.
func (s *Store) Snapshot(id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.sessions[id]
	if !exists {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return snapshotOf(e.sess), nil
}

// SnapshotAll returns snapshots for every live session.
func (s *Store) SnapshotAll() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.sessions))
	for _, e := range s.sessions {
		out = append(out, snapshotOf(e.sess))
	}
	return out
}

// Restore rebuilds a session from a snapshot. An existing session with the
// same id is replaced.
func (s *Store) Restore(snap Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("snapshot has no session id")
	}

	sess := &Session{
		ID:           snap.ID,
		Turns:        append([]Turn(nil), snap.Turns...),
		ChainPos:     snap.ChainPos,
		Status:       snap.Status,
		AgentState:   snap.AgentState,
		CreatedAt:    snap.CreatedAt,
		LastActivity: snap.LastActivity,
		ExpiresAt:    snap.ExpiresAt,
	}
	if sess.Status == "" {
		sess.Status = StatusIdle
	}
	if sess.AgentState == nil {
		sess.AgentState = make(map[string]map[string]string)
	}

	s.mu.Lock()
	s.sessions[snap.ID] = &entry{
		sem:  make(chan struct{}, 1),
		sess: sess,
	}
	count := len(s.sessions)
	s.mu.Unlock()

	observability.SetActiveSessions(count)
	return nil
}

// List returns all live session ids.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func snapshotOf(sess *Session) Snapshot {
	return Snapshot{
		ID:           sess.ID,
		ChainPos:     sess.ChainPos,
		Status:       sess.Status,
		Turns:        append([]Turn(nil), sess.Turns...),
		AgentState:   copyAgentState(sess.AgentState),
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		ExpiresAt:    sess.ExpiresAt,
	}
}

func copySession(sess *Session) *Session {
	out := *sess
	out.Turns = append([]Turn(nil), sess.Turns...)
	out.AgentState = copyAgentState(sess.AgentState)
	return &out
}

func copyAgentState(state map[string]map[string]string) map[string]map[string]string {
	if state == nil {
		return nil
	}
	out := make(map[string]map[string]string, len(state))
	for agent, kv := range state {
		inner := make(map[string]string, len(kv))
		for k, v := range kv {
			inner[k] = v
		}
		out[agent] = inner
	}
	return out
}
