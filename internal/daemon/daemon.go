// Package daemon wires the engine together: config, logging, the agent
// registry with its hot-reload watcher, the session store, the model
// invoker, the runner, session persistence and the gateway server.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aide-ai/aide/internal/config"
	"github.com/aide-ai/aide/internal/logger"
	"github.com/aide-ai/aide/internal/observability"
	"github.com/aide-ai/aide/pkg/chain"
	"github.com/aide-ai/aide/pkg/compactor"
	"github.com/aide-ai/aide/pkg/gateway"
	"github.com/aide-ai/aide/pkg/invoker"
	"github.com/aide-ai/aide/pkg/runner"
	"github.com/aide-ai/aide/pkg/session"
	"github.com/aide-ai/aide/pkg/snapshot"
)

// Daemon is the long-running engine process.
type Daemon struct {
	cfg    *config.Config
	logger *logger.Logger

	store     *session.Store
	registry  *chain.Registry
	watcher   *chain.Watcher
	inv       *invoker.Invoker
	runner    *runner.Runner
	gateway   *gateway.Server
	snapshots *snapshot.Store
	scheduler *cron.Cron

	configPath string

	mu      sync.Mutex
	running bool
}

// New builds the daemon from configuration. configPath may be empty when
// the defaults are in use; hot reload is then disabled.
func New(cfg *config.Config, log *logger.Logger, configPath string) (*Daemon, error) {
	observability.EnsureRegistered()
	zlog := log.GetZerolog()

	registry, err := chain.Load(cfg.Chain)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent chain: %w", err)
	}

	store := session.NewStore(session.Config{
		Retention: cfg.Session.RetentionDuration,
		LockWait:  cfg.Session.LockWait,
		Policy:    session.AcquirePolicy(cfg.Session.BusyPolicy),
		Logger:    zlog,
	})

	profile, err := selectProvider(cfg.Providers)
	if err != nil {
		return nil, err
	}

	var provider invoker.Provider
	switch profile.Provider {
	case "openai":
		provider = invoker.NewOpenAIProvider(profile.APIKey)
	default:
		provider = invoker.NewAnthropicProvider(profile.APIKey)
	}

	inv := invoker.New(provider, invoker.RetryPolicy{
		MaxRetries:     cfg.Retry.MaxRetries,
		BackoffFactor:  cfg.Retry.BackoffFactor,
		BackoffCeiling: cfg.Retry.BackoffCeiling,
	}, invoker.NewStatusClassifier(cfg.Retry.RetryableStatuses), zlog)

	comp := compactor.New(zlog,
		compactor.WithSummarizer(invoker.NewSummarizer(inv, profile.Model)))

	d := &Daemon{
		cfg:        cfg,
		logger:     log,
		store:      store,
		registry:   registry,
		inv:        inv,
		configPath: configPath,
	}

	var snapStore *snapshot.Store
	if cfg.SnapshotPath != "" {
		snapStore, err = snapshot.Open(cfg.SnapshotPath, zlog)
		if err != nil {
			return nil, err
		}
		d.snapshots = snapStore
	}

	gw, err := gateway.NewServer(gateway.Config{
		Host:         cfg.Gateway.Host,
		Port:         cfg.Gateway.Port,
		SharedSecret: cfg.Gateway.SharedSecret,
		Store:        store,
		Logger:       zlog,
	})
	if err != nil {
		if snapStore != nil {
			snapStore.Close()
		}
		return nil, err
	}

	// The runner streams its events through the gateway's broadcaster, and
	// the gateway dispatches chat messages through that same runner.
	run := runner.New(store, registry, inv, comp, gw.Broadcaster(), runner.Options{
		Model:           profile.Model,
		Strategy:        cfg.Session.CompactionStrategy,
		MaxMessages:     cfg.Session.MaxMessages,
		CompletedPolicy: cfg.Session.CompletedPolicy,
		Completion:      runner.NewCompletionPredicate(cfg.Completion.Marker, cfg.Completion.Keywords),
	}, zlog)
	gw.SetRunner(run)

	d.runner = run
	d.gateway = gw

	return d, nil
}

func selectProvider(profiles []config.ProviderProfile) (config.ProviderProfile, error) {
	if len(profiles) == 0 {
		return config.ProviderProfile{}, errors.New("no model providers configured")
	}
	return profiles[0], nil
}

// Start restores persisted sessions, starts the hot-reload watcher, the
// retention sweep and the gateway.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already running")
	}

	zlog := d.logger.GetZerolog()

	if d.snapshots != nil {
		snaps, err := d.snapshots.LoadAll()
		if err != nil {
			return fmt.Errorf("failed to load session snapshots: %w", err)
		}
		restored := 0
		now := time.Now()
		for _, snap := range snaps {
			if !snap.ExpiresAt.After(now) {
				continue
			}
			if err := d.store.Restore(snap); err != nil {
				zlog.Warn().Err(err).Str("session_id", snap.ID).Msg("Failed to restore session")
				continue
			}
			restored++
		}
		if restored > 0 {
			zlog.Info().Int("sessions", restored).Msg("Sessions restored from snapshot store")
		}
	}

	if d.configPath != "" {
		watcher, err := chain.NewWatcher(d.registry, d.configPath, zlog)
		if err != nil {
			zlog.Warn().Err(err).Msg("Chain hot reload disabled")
		} else {
			d.watcher = watcher
		}
	}

	d.scheduler = cron.New()
	sweepSpec := fmt.Sprintf("@every %s", d.cfg.Session.SweepInterval)
	if _, err := d.scheduler.AddFunc(sweepSpec, d.sweep); err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}
	d.scheduler.Start()

	if err := d.gateway.Start(); err != nil {
		return err
	}

	d.running = true
	zlog.Info().Msg("Daemon started")
	return nil
}

// sweep evicts expired sessions from memory and from the snapshot store.
func (d *Daemon) sweep() {
	now := time.Now()
	d.store.SweepExpired(now)
	if d.snapshots != nil {
		if _, err := d.snapshots.Prune(now); err != nil {
			zlog := d.logger.GetZerolog()
			zlog.Warn().Err(err).Msg("Snapshot prune failed")
		}
	}
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zlog := d.logger.GetZerolog()
	zlog.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	return d.Stop()
}

// Stop shuts everything down, persisting live sessions first.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}

	zlog := d.logger.GetZerolog()
	var firstErr error

	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.gateway.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}

	if d.snapshots != nil {
		if err := d.snapshots.SaveAll(d.store.SnapshotAll()); err != nil {
			zlog.Error().Err(err).Msg("Failed to persist sessions")
			if firstErr == nil {
				firstErr = err
			}
		}
		if err := d.snapshots.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	d.running = false
	zlog.Info().Msg("Daemon stopped")
	return firstErr
}
