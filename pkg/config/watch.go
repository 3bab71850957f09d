package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch watches the target config.toml for writes and sends a notification
// on the returned channel each time the file changes. The watcher runs until
// ctx is cancelled, at which point the channel is closed.
//
// Notifications are coalesced: if the consumer has not drained the previous
// notification, new ones are dropped rather than queued. Callers should treat
// a receive as "config may have changed, reload it" rather than an event log.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file on save (rename-over-write) keep working.
func (c *Configer) Watch(ctx context.Context, logger *zap.Logger) (<-chan struct{}, error) {
	if c.targetPath == "" {
		return nil, fmt.Errorf("no config path to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(c.targetPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching config dir: %w", err)
	}

	changes := make(chan struct{}, 1)

	go func() {
		defer close(changes)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(c.targetPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				select {
				case changes <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()

	return changes, nil
}
