package persona

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes a persona directory and invokes a callback when any .md
// file is created, modified, renamed, or removed, so a running orchestrator
// can reload its roster without restarting.
type Watcher struct {
	fw  *fsnotify.Watcher
	dir string
}

// Watch starts watching dir. onChange is called from the watcher goroutine,
// at most once per filesystem event. The watcher stops when ctx is cancelled.
func Watch(ctx context.Context, dir string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{fw: fw, dir: dir}

	go func() {
		defer fw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Ext(ev.Name) != ".md" {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				slog.Debug("persona file changed", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
				onChange()
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				slog.Warn("persona watcher error", slog.Any("error", err))
			}
		}
	}()

	return w, nil
}
