// Package runner drives one agent cycle at a time through the configured
// chain. A session moves forward (or stays) per cycle; it never regresses
// except through an explicit reset.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aide-ai/aide/internal/observability"
	"github.com/aide-ai/aide/pkg/chain"
	"github.com/aide-ai/aide/pkg/compactor"
	"github.com/aide-ai/aide/pkg/invoker"
	"github.com/aide-ai/aide/pkg/session"
)

// ErrSessionCompleted is returned when a request targets a completed
// session and the completed policy is reject.
var ErrSessionCompleted = errors.New("session already completed")

// CompletedPolicy values.
const (
	CompletedReset  = "reset"
	CompletedReject = "reject"
)

const defaultWelcome = "Welcome! Describe what you want to build and the " +
	"ensemble will take it from requirements through deployment planning."

// RunRequest is one user input routed into a session.
type RunRequest struct {
	SessionID   string
	Input       string
	ForcedAgent string
}

// RunResult reports the outcome of one cycle.
type RunResult struct {
	SessionID string
	AgentID   string
	Content   string
	Advanced  bool
	Completed bool
	Ready     bool
	Warning   string
}

// Options tune the runner beyond its collaborators.
type Options struct {
	Model           string
	Strategy        string
	MaxMessages     int
	CompletedPolicy string
	WelcomeMessage  string
	Completion      CompletionPredicate
}

// Runner executes agent cycles.
type Runner struct {
	store     *session.Store
	registry  *chain.Registry
	inv       *invoker.Invoker
	comp      *compactor.Compactor
	emitter   Emitter
	opts      Options
	logger    zerolog.Logger
}

// New creates a Runner.
func New(store *session.Store, registry *chain.Registry, inv *invoker.Invoker, comp *compactor.Compactor, emitter Emitter, opts Options, logger zerolog.Logger) *Runner {
	observability.EnsureRegistered()

	if emitter == nil {
		emitter = NopEmitter{}
	}
	if opts.Strategy == "" {
		opts.Strategy = compactor.StrategyRecent
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 50
	}
	if opts.CompletedPolicy == "" {
		opts.CompletedPolicy = CompletedReject
	}
	if opts.WelcomeMessage == "" {
		opts.WelcomeMessage = defaultWelcome
	}

	return &Runner{
		store:    store,
		registry: registry,
		inv:      inv,
		comp:     comp,
		emitter:  emitter,
		opts:     opts,
		logger:   logger,
	}
}

// Run executes one full cycle: append the user turn, build context, invoke
// the active agent, record the reply and advance the chain position when
// the reply signals completion. The session lock is held for the whole
// cycle and released on every exit path.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	start := time.Now()
	defer func() { observability.RecordRunCycle(time.Since(start)) }()

	if req.SessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	_, created, err := r.store.GetOrCreate(req.SessionID)
	if err != nil {
		return nil, err
	}

	guard, err := r.store.Acquire(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	sess := guard.Session()

	if created {
		guard.Append(session.Turn{
			Role:      session.RoleSystem,
			Content:   r.opts.WelcomeMessage,
			Synthetic: true,
		})
		r.emitter.Emit(Event{
			Type:      EventStatus,
			SessionID: req.SessionID,
			Content:   r.opts.WelcomeMessage,
		})
	}

	if sess.Status == session.StatusCompleted {
		if r.opts.CompletedPolicy != CompletedReset {
			return nil, fmt.Errorf("%w: %s", ErrSessionCompleted, req.SessionID)
		}
		guard.Reset()
		r.logger.Info().Str("session_id", req.SessionID).Msg("Completed session reset")
	}

	spec, err := r.activeSpec(guard, req.ForcedAgent)
	if err != nil {
		return nil, err
	}

	guard.SetStatus(session.StatusActive)
	r.emitter.Emit(Event{
		Type:      EventAgentStarted,
		SessionID: req.SessionID,
		AgentID:   spec.ID,
	})

	guard.Append(session.Turn{
		Role:    session.RoleUser,
		Content: req.Input,
	})

	contextTurns, warning := r.comp.Compact(ctx, sess.Turns, spec.ContextTokenBudget, r.opts.Strategy)

	system, messages := buildPrompt(spec.PromptTemplate, contextTurns)

	resp, err := r.inv.Invoke(ctx, invoker.Request{
		Model:       r.opts.Model,
		System:      system,
		Messages:    messages,
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxOutputTokens,
	})
	if err != nil {
		guard.SetStatus(session.StatusFailed)
		observability.RecordChainTransition("failed")
		r.emitter.Emit(Event{
			Type:      EventAgentFailed,
			SessionID: req.SessionID,
			AgentID:   spec.ID,
			Error:     err.Error(),
		})
		r.logger.Error().
			Err(err).
			Str("session_id", req.SessionID).
			Str("agent_id", spec.ID).
			Msg("Agent invocation failed")
		return nil, fmt.Errorf("agent %s invocation failed: %w", spec.ID, err)
	}

	guard.Append(session.Turn{
		AgentID:   spec.ID,
		Role:      session.RoleAgent,
		Content:   resp.Content,
		TokenCost: resp.Usage.OutputTokens,
	})
	r.capHistory(guard)

	r.emitter.Emit(Event{
		Type:      EventAgentDelta,
		SessionID: req.SessionID,
		AgentID:   spec.ID,
		Content:   resp.Content,
	})

	if HasSubstance(spec.ID, resp.Content) {
		guard.SetAgentState(spec.ID, agentStateSubstantial, "true")
	}

	advanced, completed := r.transition(guard, spec, resp.Content)
	ready := ReadyForGeneration(sess.AgentState)

	r.emitter.Emit(Event{
		Type:      EventAgentCompleted,
		SessionID: req.SessionID,
		AgentID:   spec.ID,
		Content:   resp.Content,
		Advanced:  advanced,
		Completed: completed,
		Ready:     ready,
	})

	return &RunResult{
		SessionID: req.SessionID,
		AgentID:   spec.ID,
		Content:   resp.Content,
		Advanced:  advanced,
		Completed: completed,
		Ready:     ready,
		Warning:   warning,
	}, nil
}

// activeSpec resolves the agent for this cycle: the forced override when
// present, otherwise the agent at the session's chain position.
func (r *Runner) activeSpec(guard *session.Guard, forced string) (chain.AgentSpec, error) {
	if forced != "" {
		spec, err := r.registry.Resolve(forced)
		if err != nil {
			return chain.AgentSpec{}, err
		}
		guard.SetPos(spec.Ordinal)
		return spec, nil
	}

	pos := guard.Session().ChainPos
	if pos >= r.registry.Len() {
		// The chain shrank under a hot reload; clamp to the last agent.
		pos = r.registry.Len() - 1
		guard.SetPos(pos)
	}
	return r.registry.At(pos)
}

// transition applies the completion predicate and moves the chain
// position. Position only ever moves forward here.
func (r *Runner) transition(guard *session.Guard, spec chain.AgentSpec, content string) (advanced, completed bool) {
	if !r.opts.Completion.Matches(content, spec.ID) {
		guard.SetStatus(session.StatusIdle)
		observability.RecordChainTransition("stayed")
		return false, false
	}

	next, ok := r.registry.Next(spec.ID)
	if !ok {
		guard.SetStatus(session.StatusCompleted)
		observability.RecordChainTransition("completed")
		return false, true
	}

	nextSpec, err := r.registry.Resolve(next)
	if err != nil {
		// The chain changed between Next and Resolve; stay in place.
		guard.SetStatus(session.StatusIdle)
		observability.RecordChainTransition("stayed")
		return false, false
	}

	guard.SetPos(nextSpec.Ordinal)
	guard.SetStatus(session.StatusIdle)
	observability.RecordChainTransition("advanced")
	r.logger.Info().
		Str("session_id", guard.Session().ID).
		Str("from", spec.ID).
		Str("to", nextSpec.ID).
		Msg("Chain advanced")
	return true, false
}

// capHistory bounds the stored history to the configured message limit.
func (r *Runner) capHistory(guard *session.Guard) {
	turns := guard.Session().Turns
	if len(turns) <= r.opts.MaxMessages {
		return
	}
	guard.ReplaceTurns(append([]session.Turn(nil), turns[len(turns)-r.opts.MaxMessages:]...))
}

// buildPrompt splits the compacted context into the provider system prompt
// and conversation messages. Synthetic system turns (compaction summaries,
// welcome notices) fold into the system prompt.
func buildPrompt(template string, turns []session.Turn) (string, []invoker.Message) {
	var system strings.Builder
	system.WriteString(template)

	messages := make([]invoker.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case session.RoleSystem:
			system.WriteString("\n\n")
			system.WriteString(turn.Content)
		case session.RoleAgent:
			messages = append(messages, invoker.Message{
				Role:    invoker.RoleAssistant,
				Content: turn.Content,
			})
		default:
			messages = append(messages, invoker.Message{
				Role:    invoker.RoleUser,
				Content: turn.Content,
			})
		}
	}
	return system.String(), messages
}
