// Package watch reports settled changes to a fixed set of files.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"porchlight/internal/logging"
)

// DefaultDebounce applies when New is given a non-positive debounce.
const DefaultDebounce = 300 * time.Millisecond

var (
	// ErrNoPaths is returned by New when there is nothing to watch.
	ErrNoPaths = errors.New("no paths to watch")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("watcher stopped")
)

// Watcher watches individual files through their parent directories, so
// editors that save by rename are still seen.
type Watcher struct {
	mu       sync.RWMutex
	fsw      *fsnotify.Watcher
	files    map[string]bool
	pending  map[string]time.Time
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	running  bool
	stopped  bool

	stats Stats
}

// Stats tracks watcher activity.
type Stats struct {
	Events        int // relevant raw events
	Changes       int // settled changes delivered
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// New creates a watcher for paths. Each path's directory must exist.
func New(paths []string, debounce time.Duration) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		files:    make(map[string]bool),
		pending:  make(map[string]time.Time),
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		w.files[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		dirs[dir] = true
		logging.WatchDebug("Watching directory: %s", dir)
	}
	return w, nil
}

// Files returns the watched file paths, sorted.
func (w *Watcher) Files() []string {
	files := make([]string, 0, len(w.files))
	for f := range w.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Start begins delivering settled changes to onChange from a background
// goroutine. It returns immediately. onChange is never called concurrently.
func (w *Watcher) Start(ctx context.Context, onChange func(path string)) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.running = true
	w.mu.Unlock()

	logging.Watch("Watching %d file(s), debounce %s", len(w.files), w.debounce)
	go w.run(ctx, onChange)
	return nil
}

// Stop ends the event loop, waits for it and releases the watcher. It is
// safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	close(w.stopCh)
	if started {
		<-w.doneCh
	}
	if err := w.fsw.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("Error closing watcher: %v", err)
	}
	logging.Watch("Watcher stopped")
}

func (w *Watcher) run(ctx context.Context, onChange func(string)) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.WatchDebug("Watcher context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			for _, path := range w.settled() {
				logging.Watch("Change settled: %s", path)
				onChange(path)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if !w.files[path] {
		return
	}

	var eventType string
	switch {
	case event.Has(fsnotify.Create):
		eventType = "create"
	case event.Has(fsnotify.Write):
		eventType = "modify"
	case event.Has(fsnotify.Remove):
		eventType = "delete"
	case event.Has(fsnotify.Rename):
		eventType = "rename"
	default:
		return
	}
	logging.WatchDebug("%s event for %s", eventType, path)

	now := time.Now()
	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventTime = now
	w.stats.LastEventPath = path
	w.stats.LastEventType = eventType
	w.pending[path] = now
	w.mu.Unlock()
}

// settled removes and returns the pending paths quiet for the debounce window.
func (w *Watcher) settled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	sort.Strings(ready)
	w.stats.Changes += len(ready)
	return ready
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
