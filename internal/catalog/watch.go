package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits for more changes before reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads the catalogs whenever a file in the directory changes, until ctx is
// done. onReload, if not nil, receives the result of every reload.
func (fs *FileSource) Watch(ctx context.Context, debounce time.Duration, onReload func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	if err := w.Add(fs.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch catalog dir %s: %w", fs.dir, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	slog.Info("FileSource.Watch: watching catalogs", "dir", fs.dir, "debounce", debounce)

	go func() {
		defer w.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if formatOf(ev.Name) == "" || ev.Op == fsnotify.Chmod {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				err := fs.Reload()
				if err != nil {
					slog.Warn("FileSource.Watch: reload finished with errors", "error", err)
				}
				if onReload != nil {
					onReload(err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("FileSource.Watch: watcher error", "error", err)
			}
		}
	}()
	return nil
}
