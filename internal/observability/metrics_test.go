package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnsureRegistered_Idempotent(t *testing.T) {
	// Double registration would panic inside MustRegister.
	EnsureRegistered()
	EnsureRegistered()
}

func TestMetricsHandler(t *testing.T) {
	assert.NotNil(t, MetricsHandler())
}

func TestRecorders_DoNotPanic(t *testing.T) {
	SetActiveSessions(3)
	RecordSessionCreated()
	RecordSessionsSwept(2)
	RecordSessionsSwept(0)
	RecordInvocation("anthropic", 120*time.Millisecond, true)
	RecordInvocation("openai", 80*time.Millisecond, false)
	RecordRetryAttempt("anthropic")
	RecordCompaction("recent", 10)
	RecordCompaction("summary", 0)
	RecordChainTransition("advance")
	RecordRunCycle(time.Second)
}
