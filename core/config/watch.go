package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce coalesces bursts of writes to the config file.
const DefaultReloadDebounce = 100 * time.Millisecond

// ErrNoConfigPath indicates Watch was called on a manager without a file.
var ErrNoConfigPath = errors.New("no config file to watch")

// Watch reloads the config whenever its file is written, until ctx is done
// or Close is called. The parent directory is watched so that editors that
// replace the file by rename are still seen. Reload failures are logged and
// keep the previous config.
func (m *Manager) Watch(ctx context.Context, logger *slog.Logger) error {
	if m.path == "" {
		return ErrNoConfigPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	target, err := filepath.Abs(m.path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(target)); err != nil {
		w.Close()
		return err
	}

	go m.watchLoop(ctx, w, target, logger)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, w *fsnotify.Watcher, target string, logger *slog.Logger) {
	defer w.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopWatch:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(DefaultReloadDebounce)
			} else {
				timer.Reset(DefaultReloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := m.Reload(); err != nil {
				logger.Warn("config reload failed", "path", target, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", target)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
