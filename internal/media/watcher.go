package media

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates the listing whenever a supported file in the media
// directory is created, written, renamed or removed. onChange, if non-nil,
// runs after each invalidation. Watch blocks until ctx is done.
func (l *Library) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch media dir: %w", err)
	}
	l.log.Info("watching media directory", slog.String("dir", l.dir))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !l.supported(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				l.log.Debug("media directory changed",
					slog.String("file", event.Name),
					slog.String("op", event.Op.String()))
				l.Invalidate()
				if onChange != nil {
					onChange()
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("media watcher error", slog.String("error", err.Error()))
		}
	}
}
