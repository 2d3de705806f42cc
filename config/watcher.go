package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces editor write bursts into one reload.
const debounceWindow = 200 * time.Millisecond

// Watcher reloads the project config file when it changes on disk and hands
// each valid new config to the callback. Invalid configs are logged and
// skipped; the running process keeps its previous config.
type Watcher struct {
	path     string
	logger   *slog.Logger
	onChange func(*Config)
	fw       *fsnotify.Watcher
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, logger *slog.Logger, onChange func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{path: path, logger: logger, onChange: onChange, fw: fw}, nil
}

// Run processes file events until the context ends.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			w.reload()

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Config watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFromFile(w.path)
	if err != nil {
		w.logger.Warn("Failed to reload config", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("Ignoring invalid config", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}

	w.logger.Info("Config reloaded", slog.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
