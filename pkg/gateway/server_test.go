package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aide-ai/aide/internal/config"
	"github.com/aide-ai/aide/pkg/chain"
	"github.com/aide-ai/aide/pkg/compactor"
	"github.com/aide-ai/aide/pkg/invoker"
	"github.com/aide-ai/aide/pkg/runner"
	"github.com/aide-ai/aide/pkg/session"
)

type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) Invoke(_ context.Context, req invoker.Request) (*invoker.Response, error) {
	last := ""
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	return &invoker.Response{Content: "echo: " + last}, nil
}

func setupGateway(t *testing.T, secret string) (*Server, *websocket.Conn) {
	t.Helper()

	store := session.NewStore(session.Config{
		Retention: time.Hour,
		LockWait:  time.Second,
	})
	registry, err := chain.Load(config.DefaultChain())
	require.NoError(t, err)

	inv := invoker.New(echoProvider{}, invoker.DefaultRetryPolicy(), nil, zerolog.Nop())
	comp := compactor.New(zerolog.Nop())

	srv, err := NewServer(Config{
		Host:         "localhost",
		Port:         8765,
		SharedSecret: secret,
		Store:        store,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	srv.SetRunner(runner.New(store, registry, inv, comp, srv.Broadcaster(), runner.Options{
		Model:      "test-model",
		Completion: runner.NewCompletionPredicate("<!--handoff-->", nil),
	}, zerolog.Nop()))

	ts := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	if secret != "" {
		url += "?token=" + secret
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return srv, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg EventMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServer_StartRequiresRunner(t *testing.T) {
	srv, err := NewServer(Config{
		Host:   "localhost",
		Port:   8766,
		Store:  session.NewStore(session.Config{Retention: time.Hour}),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	err = srv.Start()
	assert.ErrorContains(t, err, "no runner wired")
}

func TestServer_PingPong(t *testing.T) {
	_, conn := setupGateway(t, "")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MsgPing}))
	msg := readEvent(t, conn)
	assert.Equal(t, "pong", msg.Type)
}

func TestServer_ChatStreamsAgentEvents(t *testing.T) {
	_, conn := setupGateway(t, "")

	require.NoError(t, conn.WriteJSON(ClientMessage{
		Type:      MsgChat,
		SessionID: "s1",
		Content:   "hello there",
	}))

	seen := map[string]EventMessage{}
	deadline := time.Now().Add(3 * time.Second)
	for len(seen) < 4 && time.Now().Before(deadline) {
		msg := readEvent(t, conn)
		seen[msg.Type] = msg
	}

	assert.Contains(t, seen, string(runner.EventStatus))
	assert.Contains(t, seen, string(runner.EventAgentStarted))
	assert.Contains(t, seen, string(runner.EventAgentDelta))
	assert.Contains(t, seen, string(runner.EventAgentCompleted))
	assert.Equal(t, "requirements", seen[string(runner.EventAgentStarted)].AgentID)
	assert.Contains(t, seen[string(runner.EventAgentDelta)].Content, "echo: hello there")
}

func TestServer_ChatValidation(t *testing.T) {
	_, conn := setupGateway(t, "")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MsgChat}))
	msg := readEvent(t, conn)
	assert.Equal(t, "error", msg.Type)
}

func TestServer_UnknownMessageType(t *testing.T) {
	_, conn := setupGateway(t, "")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "bogus"}))
	msg := readEvent(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "bogus")
}

func TestServer_MalformedJSON(t *testing.T) {
	_, conn := setupGateway(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readEvent(t, conn)
	assert.Equal(t, "error", msg.Type)
}

func TestServer_StatusAndReset(t *testing.T) {
	srv, conn := setupGateway(t, "")

	_, _, err := srv.store.GetOrCreate("s1")
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MsgStatus, SessionID: "s1"}))
	msg := readEvent(t, conn)
	assert.Equal(t, "status", msg.Type)
	assert.Equal(t, string(session.StatusIdle), msg.Content)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MsgReset, SessionID: "s1"}))
	msg = readEvent(t, conn)
	assert.Equal(t, "status", msg.Type)
	assert.Contains(t, msg.Content, "reset")
}

func TestServer_StatusUnknownSession(t *testing.T) {
	_, conn := setupGateway(t, "")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MsgStatus, SessionID: "missing"}))
	msg := readEvent(t, conn)
	assert.Equal(t, "error", msg.Type)
}

func TestServer_SharedSecretRequired(t *testing.T) {
	srv, _ := setupGateway(t, "hunter2")

	ts := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegistry_ForSession(t *testing.T) {
	r := NewClientRegistry()

	bound := &Client{ID: "a"}
	bound.BindSession("s1")
	other := &Client{ID: "b"}
	other.BindSession("s2")
	unbound := &Client{ID: "c"}

	r.Add(bound)
	r.Add(other)
	r.Add(unbound)

	got := r.ForSession("s1")
	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)

	r.Remove("a")
	assert.Equal(t, 2, r.Count())
}

func TestBroadcaster_EmitNeverBlocks(t *testing.T) {
	b := NewEventBroadcaster(NewClientRegistry(), zerolog.Nop())
	b.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Emit(runner.Event{Type: runner.EventStatus, SessionID: "s"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked with a full queue")
	}
}
