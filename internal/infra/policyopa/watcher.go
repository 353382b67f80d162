package policyopa

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"govgate/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads Engine settings when the policy file changes. It watches
// the parent directory so editors that replace the file by rename are seen.
type Watcher struct {
	engine   *Engine
	path     string
	defaults Settings
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

func NewWatcher(engine *Engine, path string, defaults Settings, logger *slog.Logger) (*Watcher, error) {
	if engine == nil {
		return nil, fmt.Errorf("policy engine is required")
	}
	if path == "" {
		return nil, fmt.Errorf("policy file path is required")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %q: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		engine:   engine,
		path:     filepath.Clean(path),
		defaults: defaults,
		logger:   logging.OrDiscard(logger),
		debounce: defaultDebounce,
		watcher:  w,
	}, nil
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			w.Reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("policy watcher error", "error", err)
		}
	}
}

// Reload reads the file now. On error the previous settings stay active.
func (w *Watcher) Reload() {
	settings, err := LoadSettings(w.path, w.defaults)
	if err != nil {
		w.logger.Error("policy reload failed; keeping previous settings", "path", w.path, "error", err)
		return
	}
	if err := w.engine.SetSettings(settings); err != nil {
		w.logger.Error("policy reload rejected; keeping previous settings", "path", w.path, "error", err)
		return
	}
	w.logger.Info("escalation policy reloaded", "path", w.path, "policy_hash", w.engine.PolicyHash())
}
