package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"clausecheck/internal/logging"
)

// =============================================================================
// CATALOG WATCHER
// =============================================================================

// Watcher reloads the catalog when its file changes on disk. It watches
// the containing directory rather than the file itself so editor
// rename-and-replace saves keep working. Rapid saves are debounced.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	manager     *Manager
	path        string // absolute catalog file path
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity for debugging.
type WatcherStats struct {
	Events        int
	Reloads       int
	FailedReloads int
	Errors        int
	LastEventTime time.Time
}

// NewWatcher creates a watcher for the manager's catalog file.
func NewWatcher(manager *Manager) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	path, err := filepath.Abs(manager.Current().Path)
	if err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		watcher:     fw,
		manager:     manager,
		path:        path,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a
// goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	logging.Catalog("Watching catalog file: %s", w.path)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryCatalog).Error("Error closing catalog watcher: %v", err)
	}
	logging.Catalog("Catalog watcher stopped")
}

// run is the watcher event loop.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryCatalog).Error("Catalog watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebounced()
		}
	}
}

// handleEvent records a relevant event for debounced processing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != w.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	logging.Get(logging.CategoryCatalog).Debug("Catalog file event: %s %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventTime = time.Now()
	w.debounceMap[abs] = time.Now()
	w.mu.Unlock()
}

// processDebounced reloads once a burst of events has settled.
func (w *Watcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	reload := false
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			delete(w.debounceMap, path)
			reload = true
		}
	}
	w.mu.Unlock()

	if !reload {
		return
	}

	if err := w.manager.Reload(); err != nil {
		w.mu.Lock()
		w.stats.FailedReloads++
		w.mu.Unlock()
		return
	}
	w.mu.Lock()
	w.stats.Reloads++
	w.mu.Unlock()
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
