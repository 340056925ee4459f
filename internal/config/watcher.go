package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadCallback is called with the freshly loaded config after a change.
type ReloadCallback func(cfg *Config)

// Watcher monitors the config file and reloads it on change. Writes are
// debounced so editors that truncate-then-write trigger a single reload.
type Watcher struct {
	watcher       *fsnotify.Watcher
	loader        *Loader
	onReload      ReloadCallback
	debounce      time.Duration
	debounceTimer *time.Timer
	debounceMu    sync.Mutex
	done          chan struct{}
	stopOnce      sync.Once
}

// NewWatcher creates a config file watcher.
func NewWatcher(loader *Loader, onReload ReloadCallback) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:  fw,
		loader:   loader,
		onReload: onReload,
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the config file.
func (w *Watcher) Start() error {
	if w.loader.Path() == "" {
		return fmt.Errorf("config path not resolved, load the config first")
	}
	if err := w.watcher.Add(w.loader.Path()); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	go w.eventLoop()

	log.Info().Str("path", w.loader.Path()).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Config reload failed, keeping previous config")
		return
	}

	log.Info().Str("path", w.loader.Path()).Msg("Config reloaded")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
