// Package watch re-runs a callback when any of a set of files changes.
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

	"github.com/gofhir/bundlevalidator/pkg/logger"
)

// Watcher watches files for writes, creations and renames. Parent
// directories are watched so that editors replacing a file by rename are
// seen.
type Watcher struct {
	files    map[string]bool
	dirs     []string
	debounce time.Duration
	log      *logger.Logger
}

// New creates a Watcher for files. Events are coalesced for debounce
// before the callback runs.
func New(files []string, debounce time.Duration, log *logger.Logger) (*Watcher, error) {
	if len(files) == 0 {
		return nil, errors.New("watch: no files given")
	}
	if log == nil {
		log = logger.Default()
	}
	w := &Watcher{files: make(map[string]bool), debounce: debounce, log: log.With("watch")}
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("watch: %s: %w", f, err)
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for d := range dirs {
		w.dirs = append(w.dirs, d)
	}
	sort.Strings(w.dirs)
	return w, nil
}

// Run blocks until ctx is done, calling onChange with the sorted changed
// files after each quiet period. Callbacks never overlap.
func (w *Watcher) Run(ctx context.Context, onChange func(changed []string)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	for _, d := range w.dirs {
		if err := fw.Add(d); err != nil {
			return fmt.Errorf("failed to watch %s: %w", d, err)
		}
	}
	w.log.Info("watching %d file(s), debounce %v", len(w.files), w.debounce)

	d := newDebouncer(w.debounce)
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			w.log.Debug("%s %s", event.Op, event.Name)
			d.trigger(event.Name, onChange)

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.log.Error("watch error: %v", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	return err == nil && w.files[abs]
}

// debouncer collects changed names and fires once per quiet period.
type debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]bool
	running sync.Mutex
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{interval: interval, pending: make(map[string]bool)}
}

func (d *debouncer) trigger(name string, fn func([]string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[name] = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() { d.fire(fn) })
}

func (d *debouncer) fire(fn func([]string)) {
	d.running.Lock()
	defer d.running.Unlock()

	d.mu.Lock()
	changed := make([]string, 0, len(d.pending))
	for name := range d.pending {
		changed = append(changed, name)
	}
	d.pending = make(map[string]bool)
	d.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)
	fn(changed)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
