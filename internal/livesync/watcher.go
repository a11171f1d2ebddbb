package livesync

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eltffn/dane-table-app/internal/store"
)

// Watcher detects table file changes made by external writers (manual edits,
// other processes sharing the data dir) and re-emits them through the
// store's event channel. The store's own writes are already emitted at the
// point of write, so events matching the store's last write time are skipped.
type Watcher struct {
	store    *store.Store
	logger   *zap.Logger
	debounce time.Duration

	mu        sync.Mutex
	timer     *time.Timer
	prevMtime time.Time
}

func NewWatcher(st *store.Store, logger *zap.Logger) *Watcher {
	return &Watcher{
		store:    st,
		logger:   logger,
		debounce: 500 * time.Millisecond,
	}
}

// Start watches the table file's directory until ctx is done. Watching the
// directory rather than the file survives the atomic rename on every write.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	path := w.store.TablePath()
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return err
	}

	if info, err := os.Stat(path); err == nil {
		w.prevMtime = info.ModTime()
	}

	go func() {
		defer fsw.Close()
		target := filepath.Base(path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				w.schedule()
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("file watch error", zap.Error(err))
			}
		}
	}()
	return nil
}

// schedule coalesces bursts of events into one check after the debounce
// window, resetting the window on each new event.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.check)
}

func (w *Watcher) check() {
	info, err := os.Stat(w.store.TablePath())
	if err != nil {
		return
	}
	mtime := info.ModTime()

	w.mu.Lock()
	unchanged := mtime.Equal(w.prevMtime)
	w.prevMtime = mtime
	w.mu.Unlock()

	if unchanged {
		return
	}
	if mtime.Equal(w.store.LastWriteTime()) {
		// Our own atomic rename; already broadcast at the point of write.
		return
	}

	w.logger.Info("table file changed externally, broadcasting")
	if err := w.store.EmitCurrent(); err != nil {
		w.logger.Warn("broadcast external change failed", zap.Error(err))
	}
}
