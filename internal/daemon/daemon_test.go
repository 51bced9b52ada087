package daemon

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aide-ai/aide/internal/config"
	"github.com/aide-ai/aide/internal/logger"
	"github.com/aide-ai/aide/pkg/session"
)

func testConfig(t *testing.T, port int) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Providers = []config.ProviderProfile{
		{Provider: "anthropic", APIKey: "sk-ant-test", Model: "claude-sonnet-4-20250514"},
	}
	cfg.Gateway.Port = port
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "sessions.db")
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Console: true})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestNew_RequiresProvider(t *testing.T) {
	cfg := testConfig(t, 39301)
	cfg.Providers = nil

	_, err := New(cfg, testLogger(t), "")
	assert.ErrorContains(t, err, "no model providers")
}

func TestNew_RejectsMalformedChain(t *testing.T) {
	cfg := testConfig(t, 39302)
	cfg.Chain[1].Ordinal = 0 // duplicate ordinal

	_, err := New(cfg, testLogger(t), "")
	assert.Error(t, err)
}

func TestNew_GatewayDispatchesThroughBroadcasterWiredRunner(t *testing.T) {
	cfg := testConfig(t, 39306)

	d, err := New(cfg, testLogger(t), "")
	require.NoError(t, err)

	// Chat messages must dispatch through the same runner whose emitter is
	// the gateway's broadcaster; a second, unwired runner would swallow
	// every agent event.
	require.NotNil(t, d.gateway.Runner())
	assert.Same(t, d.runner, d.gateway.Runner())
}

func TestDaemon_StartStop(t *testing.T) {
	cfg := testConfig(t, 39303)

	d, err := New(cfg, testLogger(t), "")
	require.NoError(t, err)

	require.NoError(t, d.Start())
	assert.Error(t, d.Start(), "second start should fail")
	require.NoError(t, d.Stop())
	assert.NoError(t, d.Stop(), "second stop is a no-op")
}

func TestDaemon_PersistsSessionsAcrossRestart(t *testing.T) {
	cfg := testConfig(t, 39304)

	d, err := New(cfg, testLogger(t), "")
	require.NoError(t, err)
	require.NoError(t, d.Start())

	_, err = d.store.Create("persisted")
	require.NoError(t, err)
	_, err = d.store.AppendTurn("persisted", session.Turn{
		Role:    session.RoleUser,
		Content: "remember me",
	})
	require.NoError(t, err)

	require.NoError(t, d.Stop())

	d2, err := New(cfg, testLogger(t), "")
	require.NoError(t, err)
	require.NoError(t, d2.Start())
	defer d2.Stop()

	sess, err := d2.store.Get("persisted")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, "remember me", sess.Turns[0].Content)
}

func TestDaemon_DoesNotRestoreExpiredSessions(t *testing.T) {
	cfg := testConfig(t, 39305)

	d, err := New(cfg, testLogger(t), "")
	require.NoError(t, err)

	// Persist an already-expired snapshot directly.
	require.NoError(t, d.snapshots.Save(session.Snapshot{
		ID:           "stale",
		Status:       session.StatusIdle,
		CreatedAt:    time.Now().Add(-3 * time.Hour),
		LastActivity: time.Now().Add(-2 * time.Hour),
		ExpiresAt:    time.Now().Add(-time.Hour),
	}))

	require.NoError(t, d.Start())
	defer d.Stop()

	_, err = d.store.Get("stale")
	assert.ErrorIs(t, err, session.ErrNotFound)
}
