package globalvars

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds the variables decoded from a file and reloads them when
// the file changes. A reload that fails keeps the previous variables.
type Watcher struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	vars Variables
}

// NewWatcher loads path once. The returned watcher does not follow the
// file until Watch is called.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	w := &Watcher{path: path, logger: logger}
	if err := w.reload(); err != nil {
		return nil, err
	}

	return w, nil
}

// Variables returns the current variables. The map is replaced on reload,
// never modified, and must not be modified by callers.
func (w *Watcher) Variables() Variables {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.vars
}

func (w *Watcher) reload() error {
	data, err := LoadFile(w.path)
	if err != nil {
		return err
	}

	vars, err := Extract(data)
	if err != nil {
		return fmt.Errorf("extracting variables from %s: %w", w.path, err)
	}

	w.mu.Lock()
	w.vars = vars
	w.mu.Unlock()

	return nil
}

// Watch reloads the file whenever it changes. The parent directory is
// watched so editors that replace the file by rename are followed. It
// blocks until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			// Truncate-then-write shows up as an empty file first.
			if info, err := os.Stat(w.path); err == nil && info.Size() == 0 {
				continue
			}

			if err := w.reload(); err != nil {
				w.logger.Warn("global variables reload failed, keeping previous values",
					slog.String("path", w.path),
					slog.String("error", err.Error()),
				)

				continue
			}

			w.logger.Info("global variables reloaded",
				slog.String("path", w.path),
				slog.Int("count", len(w.Variables())),
			)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			w.logger.Warn("fsnotify error", slog.String("error", err.Error()))
		}
	}
}
