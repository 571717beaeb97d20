// Package watch tails a snapshot directory with fsnotify and hands
// settled files to an ingest callback, so `scalemeter record --watch`
// picks up new mmrepquota dumps as the archiving cron job writes them.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Ingester receives the path of a file that has settled in the watched
// directory.
type Ingester func(ctx context.Context, path string) error

// Stats tracks watcher activity.
type Stats struct {
	Events   int
	Ingested int
	Errors   int
	LastPath string
}

// Watcher watches one directory (non-recursive) for snapshot files.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	dir         string
	pattern     string
	ingest      Ingester
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	log         *zap.Logger

	stats Stats
}

// New creates a Watcher for dir. pattern is a filepath.Match pattern on
// the base name (e.g. "mmrepquota-*.txt"); empty matches everything.
func New(dir, pattern string, ingest Ingester, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Watcher{
		watcher:     fsw,
		dir:         dir,
		pattern:     pattern,
		ingest:      ingest,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // let cron finish writing
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		log:         log.Named("watch"),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a
// goroutine until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Unlock()
		return err
	}
	w.running = true
	w.mu.Unlock()
	w.log.Info("watching directory", zap.String("dir", w.dir), zap.String("pattern", w.pattern))

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to drain. Safe to
// call more than once, and whether or not Start succeeded.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}

	if err := w.watcher.Close(); err != nil {
		w.log.Error("error closing watcher", zap.Error(err))
	}
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

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
			w.log.Error("watch error", zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processSettled(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return // ignore chmod, remove, rename
	}
	if w.pattern != "" {
		if ok, err := filepath.Match(w.pattern, filepath.Base(event.Name)); err != nil || !ok {
			return
		}
	}

	w.log.Debug("snapshot event", zap.String("op", event.Op.String()), zap.String("path", event.Name))

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastPath = event.Name
	// Debounce: a file is ingested once it stops changing.
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// processSettled ingests files whose last event is older than the
// debounce window.
func (w *Watcher) processSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, last := range w.debounceMap {
		if now.Sub(last) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		if err := w.ingest(ctx, path); err != nil {
			w.log.Warn("ingest failed", zap.String("path", path), zap.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
			continue
		}
		w.log.Info("ingested snapshot", zap.String("path", path))
		w.mu.Lock()
		w.stats.Ingested++
		w.mu.Unlock()
	}
}
