package chain

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/aide-ai/aide/internal/config"
)

// Watcher reloads the registry when the chain config file changes. A failed
// reload keeps the previous registry live.
type Watcher struct {
	registry   *Registry
	configPath string
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger
	debounce   time.Duration
	timerMu    sync.Mutex
	timer      *time.Timer
	stopCh     chan struct{}
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(registry *Registry, configPath string, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		registry:   registry,
		configPath: configPath,
		watcher:    fw,
		logger:     logger,
		debounce:   500 * time.Millisecond,
		stopCh:     make(chan struct{}),
	}

	// Watch the directory: editors replace files, which breaks a direct
	// file watch.
	if err := fw.Add(filepath.Dir(configPath)); err != nil {
		fw.Close()
		return nil, err
	}

	go w.run()

	return w, nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Chain config change detected")

				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Chain watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := config.NewLoader(w.configPath).Load()
	if err != nil {
		w.logger.Error().Err(err).Msg("Chain reload failed, keeping previous registry")
		return
	}

	if err := w.registry.Swap(cfg.Chain); err != nil {
		w.logger.Error().Err(err).Msg("Chain swap rejected, keeping previous registry")
		return
	}

	w.logger.Info().Int("agents", len(cfg.Chain)).Msg("Chain registry reloaded")
}
