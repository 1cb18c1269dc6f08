// Package phrasewatch reloads the emergency phrase file when it changes on
// disk.
package phrasewatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// ReloadFunc is called with the watched path after it changed.
type ReloadFunc func(path string) error

// Watcher watches a single file. It watches the parent directory so that
// editors which replace the file by rename are still seen.
type Watcher struct {
	path     string
	reload   ReloadFunc
	debounce time.Duration
	fw       *fsnotify.Watcher
}

// New starts watching path. Events are delivered once Run is called.
func New(path string, reload ReloadFunc) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("phrase file path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{path: abs, reload: reload, debounce: defaultDebounce, fw: fw}, nil
}

// Run delivers reloads until ctx is done, then closes the watcher. Bursts
// of events within the debounce window cause a single reload.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			if err := w.reload(w.path); err != nil {
				slog.Warn("phrase file reload failed, keeping previous list", "path", w.path, "error", err)
				continue
			}
			slog.Info("phrase file reloaded", "path", w.path)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("phrase file watcher error", "error", err)
		}
	}
}
