package rulefile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a change triggers a reload.
const DefaultDebounce = 200 * time.Millisecond

// ErrWatcherRunning is returned by Start on a running watcher.
var ErrWatcherRunning = errors.New("watcher already running")

// Watcher pushes rule file changes to a callback. It watches the file's
// directory so that editors which replace the file by rename are still
// observed, and debounces bursts of events into one reload.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(ctx context.Context) error
	logger   *slog.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	debounce *Debouncer
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWatcher creates a Watcher for path. onChange runs on a timer
// goroutine after each debounced burst of changes.
func NewWatcher(path string, interval time.Duration, onChange func(ctx context.Context) error, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultDebounce
	}
	return &Watcher{
		path:     filepath.Clean(path),
		interval: interval,
		onChange: onChange,
		logger:   logger,
	}
}

// Start begins watching. It returns once the watch is registered; events
// are processed in the background until ctx is cancelled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrWatcherRunning
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.watcher = fsw
	w.debounce = NewDebouncer(w.interval)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.loop(ctx, fsw, w.debounce, w.stopCh, w.doneCh)

	w.logger.Info("rule file watcher started", "path", w.path, "debounce", w.interval)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, debounce *Debouncer, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("rule file event", "path", event.Name, "op", event.Op.String())
			debounce.Trigger(func() {
				if err := w.onChange(ctx); err != nil {
					w.logger.Error("rule reload failed", "path", w.path, "error", err)
				}
			})
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("rule file watcher error", "error", err)
		}
	}
}

// relevant filters events to writes, creates and renames of the watched
// file.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// Stop halts the watcher and cancels a pending reload. It is safe to call
// more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false

	close(w.stopCh)
	<-w.doneCh
	w.debounce.Stop()
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}
	w.logger.Info("rule file watcher stopped", "path", w.path)
	return nil
}

// Debouncer collects rapid events and runs the latest callback only after
// a quiet period.
type Debouncer struct {
	interval time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopped  bool
	running  sync.WaitGroup
}

// NewDebouncer creates a Debouncer.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules callback, replacing any pending one.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	cb := d.callback
	d.callback = nil
	d.running.Add(1)
	d.mu.Unlock()

	defer d.running.Done()
	if cb != nil {
		cb()
	}
}

// Stop cancels a pending callback and waits for a running one.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
	d.mu.Unlock()

	d.running.Wait()
}
