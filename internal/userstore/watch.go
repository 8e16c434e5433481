package userstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

// Watch calls fn whenever the backing file is written, created, replaced
// or removed, including by other processes. It blocks until ctx is
// cancelled or the watcher fails; a kernel queue overflow is not a failure.
//
// The parent directory is watched rather than the file itself because
// Create replaces the file by rename, which would orphan a file watch.
func (s *Store) Watch(ctx context.Context, fn func(fsnotify.Event)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(s.path)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	return watchLoop(ctx, target, watcher.Events, watcher.Errors, fn)
}

// watchLoop filters events down to target. A dropped-event overflow is
// reported to fn as a write, since the file may have changed unseen.
func watchLoop(ctx context.Context, target string, events <-chan fsnotify.Event, errs <-chan error, fn func(fsnotify.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(watchedOps) {
				continue
			}
			fn(event)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				fn(fsnotify.Event{Name: target, Op: fsnotify.Write})
				continue
			}
			return fmt.Errorf("watch %s: %w", target, err)
		}
	}
}
