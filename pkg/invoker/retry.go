package invoker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aide-ai/aide/internal/observability"
)

// RetryPolicy bounds the retry controller. BackoffFactor is in seconds;
// the delay before attempt n+1 is BackoffFactor * 2^n, capped at
// BackoffCeiling.
type RetryPolicy struct {
	MaxRetries     int
	BackoffFactor  float64
	BackoffCeiling time.Duration
}

// DefaultRetryPolicy matches the shipped config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BackoffFactor:  1.0,
		BackoffCeiling: 30 * time.Second,
	}
}

// Invoker wraps a provider with retry handling.
type Invoker struct {
	provider Provider
	policy   RetryPolicy
	classify Classifier
	logger   zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Invoker around a provider. A nil classifier gets the
// default retryable status set. MaxRetries 0 means a single attempt with
// no retries; only a negative value falls back to the default.
func New(provider Provider, policy RetryPolicy, classify Classifier, logger zerolog.Logger) *Invoker {
	observability.EnsureRegistered()

	if policy.MaxRetries < 0 {
		policy.MaxRetries = 3
	}
	if policy.BackoffFactor <= 0 {
		policy.BackoffFactor = 1.0
	}
	if policy.BackoffCeiling <= 0 {
		policy.BackoffCeiling = 30 * time.Second
	}
	if classify == nil {
		classify = NewStatusClassifier([]int{429, 500, 503})
	}

	return &Invoker{
		provider: provider,
		policy:   policy,
		classify: classify,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Name returns the underlying provider name.
func (inv *Invoker) Name() string {
	return inv.provider.Name()
}

// Invoke calls the provider, retrying transient failures up to the policy
// bound. Fatal errors return immediately; exhaustion returns
// ErrRetriesExhausted wrapping the last transient error.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	var lastErr error

	attempts := inv.policy.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := inv.provider.Invoke(ctx, req)
		if err == nil {
			observability.RecordInvocation(inv.provider.Name(), time.Since(start), true)
			return resp, nil
		}

		lastErr = err

		if inv.classify(err) == ClassFatal {
			observability.RecordInvocation(inv.provider.Name(), time.Since(start), false)
			inv.logger.Error().
				Err(err).
				Str("provider", inv.provider.Name()).
				Msg("Fatal provider error")
			return nil, err
		}

		if attempt == attempts-1 {
			break
		}

		delay := inv.backoffDelay(attempt)
		observability.RecordRetryAttempt(inv.provider.Name())
		inv.logger.Warn().
			Err(err).
			Str("provider", inv.provider.Name()).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after transient error")

		if err := inv.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	observability.RecordInvocation(inv.provider.Name(), time.Since(start), false)
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

func (inv *Invoker) backoffDelay(attempt int) time.Duration {
	d := time.Duration(inv.policy.BackoffFactor * float64(uint(1)<<uint(attempt)) * float64(time.Second))
	if d > inv.policy.BackoffCeiling {
		d = inv.policy.BackoffCeiling
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
