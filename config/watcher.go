package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration file when it changes on disk and hands the
// new configuration to registered callbacks.
type Watcher struct {
	path     string
	debounce time.Duration

	mu        sync.Mutex
	callbacks []func(*Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher for the config file at path. Nothing is watched until Start.
func NewWatcher(path string) *Watcher {
	return &Watcher{
		path:     path,
		debounce: 250 * time.Millisecond,
		done:     make(chan struct{}),
	}
}

// OnReload registers fn to run after every successful reload.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Start begins watching. The parent directory is watched so editors that
// replace the file atomically are still noticed.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}
	w.watcher = fw

	w.wg.Add(1)
	go w.loop()
	slog.Info("watching config file for changes", "path", w.path)
	return nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	w.watcher = nil
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	target := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Editors emit bursts of events for one save.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	result, err := Load(w.path)
	if err != nil {
		slog.Error("failed to reload config", "path", w.path, "error", err)
		return
	}
	slog.Info("config file changed, reloaded", "path", w.path)

	w.mu.Lock()
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(result.Config)
	}
}
