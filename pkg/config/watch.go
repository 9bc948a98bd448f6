package config

import (
	"context"
	"path/filepath"
	"time"

	"spacecomms/pkg/types"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 100 * time.Millisecond

// Watch reloads path whenever it changes and passes each valid config to
// fn. Invalid files are logged and skipped. The directory is watched
// rather than the file so atomic rename-on-save is picked up. Watch
// blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, logger *zap.Logger, fn func(*Config)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return types.Wrap(types.KindConfig, err, "resolve config path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return types.Wrap(types.KindIO, err, "create config watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return types.Wrap(types.KindIO, err, "watch %s", filepath.Dir(abs))
	}

	timer := time.NewTimer(reloadDelay)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(reloadDelay)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", zap.Error(err))

		case <-timer.C:
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("Ignoring invalid config change", zap.String("path", abs), zap.Error(err))
				continue
			}
			logger.Info("Config reloaded", zap.String("path", abs))
			fn(cfg)
		}
	}
}
