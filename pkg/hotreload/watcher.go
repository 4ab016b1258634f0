// Package hotreload watches the process configuration file and drives
// the engine's worker-sync-barrier reconfiguration path when it
// changes.
//
// Watcher wraps an fsnotify.Watcher over the config file's directory
// (watching the directory rather than the file itself survives editors
// that replace the file via rename-into-place), debounced so a burst
// of writes triggers one reload, calling back into the caller-supplied
// Reload function — here internal/engine.MainLoop.Reload.
package hotreload

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Config controls debounce timing.
type Config struct {
	DebounceInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.DebounceInterval == 0 {
		c.DebounceInterval = 500 * time.Millisecond
	}
}

// ReloadFunc is invoked after the debounce window elapses with no
// further filesystem events. It is expected to re-read, re-validate,
// and (on success) install the new configuration; a reload failure is
// its caller's responsibility to log and otherwise ignore, since
// configuration errors are fatal only at initial start.
type ReloadFunc func()

// Watcher watches one config file's containing directory for changes.
type Watcher struct {
	cfg        Config
	logger     *logrus.Logger
	configPath string
	reload     ReloadFunc

	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer

	done chan struct{}
}

// New builds a Watcher for configPath, not yet started.
func New(cfg Config, configPath string, reload ReloadFunc, logger *logrus.Logger) (*Watcher, error) {
	cfg.applyDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(configPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		cfg:        cfg,
		logger:     logger,
		configPath: filepath.Clean(configPath),
		reload:     reload,
		watcher:    fsw,
		done:       make(chan struct{}),
	}, nil
}

// Start launches the watch loop in a background goroutine.
func (w *Watcher) Start() {
	go w.run()
}

// Stop closes the underlying fsnotify watcher and waits for the watch
// loop to exit.
func (w *Watcher) Stop() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.configPath {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("hotreload: watcher error")
		}
	}
}

// scheduleReload debounces bursts of filesystem events (e.g. an editor
// writing a temp file then renaming it over the target) into a single
// reload call DebounceInterval after the last observed event.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.DebounceInterval, func() {
		w.logger.WithField("config_file", w.configPath).Info("hotreload: config file changed, reloading")
		w.reload()
	})
}
