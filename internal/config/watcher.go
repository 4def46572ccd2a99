// internal/config/watcher.go
package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/valpere/SiteHarvester/internal/utils"
)

// ReloadFunc reloads path; a returned error keeps the previous state
type ReloadFunc func(path string) error

// Watcher reloads a file whenever it changes on disk
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	reload   ReloadFunc
	debounce time.Duration
	logger   utils.Logger

	mu        sync.Mutex
	callbacks []func(error)
	timer     *time.Timer
	stopped   bool
	done      chan struct{}
}

// NewWatcher watches path and calls reload after each change settles.
// The parent directory is watched so editors that replace the file on save
// are picked up.
func NewWatcher(path string, reload ReloadFunc, logger utils.Logger) (*Watcher, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		watcher:  fw,
		path:     abs,
		reload:   reload,
		debounce: 200 * time.Millisecond,
		logger:   logger.WithField("file", abs),
		done:     make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

// OnReload registers a callback run after every reload attempt with its result
func (w *Watcher) OnReload(callback func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

func (w *Watcher) watch() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("File watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.handleChange)
}

func (w *Watcher) handleChange() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	callbacks := make([]func(error), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	err := w.reload(w.path)
	if err != nil {
		w.logger.Errorf("Failed to reload, keeping previous version: %v", err)
	} else {
		w.logger.Info("Reloaded")
	}
	for _, cb := range callbacks {
		cb(err)
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.watcher.Close()
	<-w.done
	return err
}
