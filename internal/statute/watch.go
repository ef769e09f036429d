package statute

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"qanoon/internal/logging"
)

// Watch reloads the corpus whenever its file or directory changes on disk.
// Blocks until ctx is cancelled. A failed reload keeps the previous corpus.
func (e *Engine) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(e.path); err != nil {
		return err
	}
	logging.Statute("Watching statute corpus: %s", e.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logging.StatuteDebug("Corpus change detected: %s", event)
			if err := e.Reload(); err != nil {
				logging.Get(logging.CategoryStatute).Warn("Corpus reload failed, keeping previous corpus: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryStatute).Warn("Corpus watcher error: %v", err)
		}
	}
}
