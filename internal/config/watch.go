package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events an editor save produces.
var watchDebounce = 500 * time.Millisecond

// Watch calls onChange once the config file at path settles after being
// written, created or replaced. The parent directory is watched because
// editors often save by renaming a temp file over the original. Watch
// blocks until ctx is canceled and then returns nil.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	logger.Debug("watching config file", slog.String("path", path))

	name := filepath.Clean(path)

	debounce := time.NewTimer(watchDebounce)
	debounce.Stop()

	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != name {
				continue
			}

			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce.Reset(watchDebounce)
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", watchErr.Error()))

		case <-debounce.C:
			logger.Info("config file changed", slog.String("path", path))
			onChange()
		}
	}
}
