// internal/config/watcher.go
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// ReloadFunc receives the freshly loaded configuration after a change.
type ReloadFunc func(cfg *Config)

// Watcher reloads configuration when the config file changes on disk.
// Components that support hot-reload (confidence threshold, sync interval)
// subscribe through the ReloadFunc; a reload that fails validation is
// logged by the caller and the previous configuration stays in effect.
type Watcher struct {
	configPath string
	onReload   ReloadFunc
	onError    func(error)

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	started bool
}

// NewWatcher creates a watcher for the given config file path.
// onError is optional; pass nil to drop reload errors silently.
func NewWatcher(configPath string, onReload ReloadFunc, onError func(error)) (*Watcher, error) {
	if configPath == "" {
		return nil, errors.New("config path required for watching")
	}
	if onReload == nil {
		return nil, errors.New("reload callback required")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		configPath: configPath,
		onReload:   onReload,
		onError:    onError,
		watcher:    fw,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching. Watches the parent directory rather than the file
// itself so editors that replace the file (write temp + rename) still
// trigger events. Idempotent.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching config directory %s: %w", dir, err)
	}

	w.started = true
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and releases resources. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.started = false

	close(w.stop)
	_ = w.watcher.Close()
	<-w.done
}

// processEvents debounces bursts of write events and reloads once per burst.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.reportError(fmt.Errorf("config watcher: %w", err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.configPath)
	if err != nil {
		w.reportError(fmt.Errorf("config reload rejected: %w", err))
		return
	}
	w.onReload(cfg)
}

func (w *Watcher) reportError(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}
