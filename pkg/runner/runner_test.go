package runner

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aide-ai/aide/internal/config"
	"github.com/aide-ai/aide/pkg/chain"
	"github.com/aide-ai/aide/pkg/compactor"
	"github.com/aide-ai/aide/pkg/invoker"
	"github.com/aide-ai/aide/pkg/session"
)

type scriptedProvider struct {
	replies []scriptedReply
	calls   int
	lastReq invoker.Request
}

type scriptedReply struct {
	content string
	err     error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Invoke(_ context.Context, req invoker.Request) (*invoker.Response, error) {
	p.lastReq = req
	i := p.calls
	p.calls++
	if i >= len(p.replies) {
		i = len(p.replies) - 1
	}
	r := p.replies[i]
	if r.err != nil {
		return nil, r.err
	}
	return &invoker.Response{Content: r.content, Usage: invoker.Usage{OutputTokens: 42}}, nil
}

type captureEmitter struct {
	events []Event
}

func (c *captureEmitter) Emit(e Event) { c.events = append(c.events, e) }

func (c *captureEmitter) ofType(t EventType) []Event {
	var out []Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type runnerFixture struct {
	runner   *Runner
	store    *session.Store
	provider *scriptedProvider
	emitter  *captureEmitter
}

func setupRunner(t *testing.T, replies []scriptedReply, mutate ...func(*Options, *session.Config)) *runnerFixture {
	t.Helper()

	sessCfg := session.Config{
		Retention: time.Hour,
		LockWait:  time.Second,
		Policy:    session.PolicyBlock,
	}
	opts := Options{
		Model:           "test-model",
		Strategy:        compactor.StrategyRecent,
		MaxMessages:     50,
		CompletedPolicy: CompletedReject,
		Completion:      NewCompletionPredicate("<!--handoff-->", []string{"approved", "looks good"}),
	}
	for _, m := range mutate {
		m(&opts, &sessCfg)
	}

	registry, err := chain.Load(config.DefaultChain())
	require.NoError(t, err)

	store := session.NewStore(sessCfg)
	provider := &scriptedProvider{replies: replies}
	inv := invoker.New(provider, invoker.DefaultRetryPolicy(), nil, zerolog.Nop())
	comp := compactor.New(zerolog.Nop())
	emitter := &captureEmitter{}

	return &runnerFixture{
		runner:   New(store, registry, inv, comp, emitter, opts, zerolog.Nop()),
		store:    store,
		provider: provider,
		emitter:  emitter,
	}
}

func TestRun_StaysWithoutCompletionSignal(t *testing.T) {
	f := setupRunner(t, []scriptedReply{{content: "What features do you need?"}})

	result, err := f.runner.Run(context.Background(), RunRequest{
		SessionID: "s1",
		Input:     "I want a todo app",
	})
	require.NoError(t, err)

	assert.Equal(t, "requirements", result.AgentID)
	assert.False(t, result.Advanced)
	assert.False(t, result.Completed)

	sess, err := f.store.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, 0, sess.ChainPos)
	assert.Equal(t, session.StatusIdle, sess.Status)
}

func TestRun_AdvancesOnMarker(t *testing.T) {
	f := setupRunner(t, []scriptedReply{
		{content: "Requirements captured: a todo app with due dates. <!--handoff-->"},
	})

	result, err := f.runner.Run(context.Background(), RunRequest{
		SessionID: "s1",
		Input:     "todo app, nothing fancy",
	})
	require.NoError(t, err)

	assert.True(t, result.Advanced)
	assert.False(t, result.Completed)

	sess, err := f.store.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.ChainPos)
}

func TestRun_AdvancesOnApprovalKeyword(t *testing.T) {
	f := setupRunner(t, []scriptedReply{
		{content: "That all looks good to me, the requirements are settled."},
	})

	result, err := f.runner.Run(context.Background(), RunRequest{SessionID: "s1", Input: "done?"})
	require.NoError(t, err)
	assert.True(t, result.Advanced)
}

func TestRun_RecordsTurns(t *testing.T) {
	f := setupRunner(t, []scriptedReply{{content: "Tell me more."}})

	_, err := f.runner.Run(context.Background(), RunRequest{SessionID: "s1", Input: "an app"})
	require.NoError(t, err)

	sess, err := f.store.Get("s1")
	require.NoError(t, err)

	// Welcome, user input, agent reply.
	require.Len(t, sess.Turns, 3)
	assert.True(t, sess.Turns[0].Synthetic)
	assert.Equal(t, session.RoleUser, sess.Turns[1].Role)
	assert.Equal(t, "an app", sess.Turns[1].Content)
	assert.Equal(t, session.RoleAgent, sess.Turns[2].Role)
	assert.Equal(t, "requirements", sess.Turns[2].AgentID)
	assert.Equal(t, 42, sess.Turns[2].TokenCost)
}

func TestRun_CompletesAtChainEnd(t *testing.T) {
	f := setupRunner(t, []scriptedReply{
		{content: "Deployment plan settled: static hosting with SSL. <!--handoff-->"},
	})

	result, err := f.runner.Run(context.Background(), RunRequest{
		SessionID:   "s1",
		Input:       "ship it",
		ForcedAgent: "devops",
	})
	require.NoError(t, err)

	assert.Equal(t, "devops", result.AgentID)
	assert.False(t, result.Advanced)
	assert.True(t, result.Completed)

	sess, err := f.store.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, sess.Status)
}

func TestRun_CompletedSessionRejected(t *testing.T) {
	f := setupRunner(t, []scriptedReply{
		{content: "Done. <!--handoff-->"},
		{content: "unreachable"},
	})

	_, err := f.runner.Run(context.Background(), RunRequest{
		SessionID:   "s1",
		Input:       "finish",
		ForcedAgent: "devops",
	})
	require.NoError(t, err)

	_, err = f.runner.Run(context.Background(), RunRequest{SessionID: "s1", Input: "more"})
	assert.ErrorIs(t, err, ErrSessionCompleted)
}

func TestRun_CompletedSessionResetPolicy(t *testing.T) {
	f := setupRunner(t, []scriptedReply{
		{content: "Done. <!--handoff-->"},
		{content: "Starting over: what do you want to build?"},
	}, func(opts *Options, _ *session.Config) {
		opts.CompletedPolicy = CompletedReset
	})

	_, err := f.runner.Run(context.Background(), RunRequest{
		SessionID:   "s1",
		Input:       "finish",
		ForcedAgent: "devops",
	})
	require.NoError(t, err)

	result, err := f.runner.Run(context.Background(), RunRequest{SessionID: "s1", Input: "new project"})
	require.NoError(t, err)
	assert.Equal(t, "requirements", result.AgentID)

	sess, err := f.store.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, 0, sess.ChainPos)
}

func TestRun_FailurePreservesPosition(t *testing.T) {
	f := setupRunner(t, []scriptedReply{
		{content: "Captured. <!--handoff-->"},
		{err: &invoker.APIError{Provider: "scripted", StatusCode: 401, Message: "bad key"}},
		{content: "UX flows mapped out for the app's main screens."},
	})

	// First cycle advances to ux.
	_, err := f.runner.Run(context.Background(), RunRequest{SessionID: "s1", Input: "todo app"})
	require.NoError(t, err)

	// Second cycle fails fatally.
	_, err = f.runner.Run(context.Background(), RunRequest{SessionID: "s1", Input: "continue"})
	require.Error(t, err)

	sess, err := f.store.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, sess.Status)
	assert.Equal(t, 1, sess.ChainPos)

	// No agent turn was recorded for the failed attempt.
	last := sess.Turns[len(sess.Turns)-1]
	assert.Equal(t, session.RoleUser, last.Role)

	// Resubmission retries the same agent.
	result, err := f.runner.Run(context.Background(), RunRequest{SessionID: "s1", Input: "try again"})
	require.NoError(t, err)
	assert.Equal(t, "ux", result.AgentID)
}

func TestRun_ForcedAgentOverride(t *testing.T) {
	f := setupRunner(t, []scriptedReply{
		{content: "API surface: REST endpoints for tasks and auth."},
	})

	result, err := f.runner.Run(context.Background(), RunRequest{
		SessionID:   "s1",
		Input:       "let's talk endpoints",
		ForcedAgent: "api",
	})
	require.NoError(t, err)
	assert.Equal(t, "api", result.AgentID)

	sess, err := f.store.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, 5, sess.ChainPos)
}

func TestRun_UnknownForcedAgent(t *testing.T) {
	f := setupRunner(t, []scriptedReply{{content: "x"}})

	_, err := f.runner.Run(context.Background(), RunRequest{
		SessionID:   "s1",
		Input:       "hi",
		ForcedAgent: "nonexistent",
	})
	assert.ErrorIs(t, err, chain.ErrUnknownAgent)
}

func TestRun_BusySessionRejected(t *testing.T) {
	f := setupRunner(t, []scriptedReply{{content: "x"}}, func(_ *Options, sc *session.Config) {
		sc.Policy = session.PolicyReject
	})

	_, _, err := f.store.GetOrCreate("s1")
	require.NoError(t, err)
	guard, err := f.store.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	defer guard.Release()

	_, err = f.runner.Run(context.Background(), RunRequest{SessionID: "s1", Input: "hi"})
	assert.ErrorIs(t, err, session.ErrSessionBusy)
}

func TestRun_EmitsLifecycleEvents(t *testing.T) {
	f := setupRunner(t, []scriptedReply{
		{content: "Requirements settled. <!--handoff-->"},
	})

	_, err := f.runner.Run(context.Background(), RunRequest{SessionID: "s1", Input: "an app"})
	require.NoError(t, err)

	started := f.emitter.ofType(EventAgentStarted)
	require.Len(t, started, 1)
	assert.Equal(t, "requirements", started[0].AgentID)

	deltas := f.emitter.ofType(EventAgentDelta)
	require.Len(t, deltas, 1)
	assert.Contains(t, deltas[0].Content, "Requirements settled")

	completed := f.emitter.ofType(EventAgentCompleted)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Advanced)
}

func TestRun_EmitsFailureEvent(t *testing.T) {
	f := setupRunner(t, []scriptedReply{
		{err: &invoker.APIError{Provider: "scripted", StatusCode: 403, Message: "denied"}},
	})

	_, err := f.runner.Run(context.Background(), RunRequest{SessionID: "s1", Input: "hi"})
	require.Error(t, err)

	failed := f.emitter.ofType(EventAgentFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "denied")
}

func TestRun_SystemPromptCarriesTemplate(t *testing.T) {
	f := setupRunner(t, []scriptedReply{{content: "reply"}})

	_, err := f.runner.Run(context.Background(), RunRequest{SessionID: "s1", Input: "hi"})
	require.NoError(t, err)

	assert.Contains(t, f.provider.lastReq.System, "Requirements agent")
	assert.Equal(t, 0.7, f.provider.lastReq.Temperature)
	assert.Equal(t, 2000, f.provider.lastReq.MaxTokens)
}

func TestRun_HistoryCappedAtMaxMessages(t *testing.T) {
	f := setupRunner(t, []scriptedReply{{content: "noted"}}, func(opts *Options, _ *session.Config) {
		opts.MaxMessages = 6
	})

	for i := 0; i < 5; i++ {
		_, err := f.runner.Run(context.Background(), RunRequest{SessionID: "s1", Input: "more detail"})
		require.NoError(t, err)
	}

	sess, err := f.store.Get("s1")
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 6)
}

func TestRun_EmptySessionID(t *testing.T) {
	f := setupRunner(t, []scriptedReply{{content: "x"}})
	_, err := f.runner.Run(context.Background(), RunRequest{Input: "hi"})
	assert.Error(t, err)
}

func TestRun_ReadyAfterSubstantialContributions(t *testing.T) {
	f := setupRunner(t, []scriptedReply{
		{content: "Requirements: a task tracker with due dates and reminders for small teams. <!--handoff-->"},
		{content: "UX: a three-screen flow with a list view, detail view, and quick-add. <!--handoff-->"},
		{content: "UI: calm neutral palette, large touch targets, system typography. <!--handoff-->"},
	})

	var result *RunResult
	var err error
	for i := 0; i < 3; i++ {
		result, err = f.runner.Run(context.Background(), RunRequest{SessionID: "s1", Input: "go on"})
		require.NoError(t, err)
	}

	assert.True(t, result.Ready)
}
