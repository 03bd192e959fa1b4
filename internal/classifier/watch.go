package classifier

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultWatchDelay is how long the model file must be quiet before a reload.
const DefaultWatchDelay = 500 * time.Millisecond

// Watcher reloads a Holder whenever its model file changes on disk.
//
// The directory is watched rather than the file so that editors and trainers
// that replace the file by rename are still seen.
type Watcher struct {
	holder *Holder
	logger *zap.SugaredLogger
	fsw    *fsnotify.Watcher
	target string

	debounced func(func())
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWatcher starts watching the holder's model file. delay <= 0 uses
// DefaultWatchDelay.
func NewWatcher(holder *Holder, delay time.Duration, logger *zap.SugaredLogger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if delay <= 0 {
		delay = DefaultWatchDelay
	}

	target, err := filepath.Abs(holder.Path())
	if err != nil {
		return nil, fmt.Errorf("resolve model path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	w := &Watcher{
		holder:    holder,
		logger:    logger,
		fsw:       fsw,
		target:    target,
		debounced: debounce.New(delay),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.debounced(w.reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("model watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}
	w.logger.Infow("model file changed", "path", w.target)
	// Errors are logged by the holder.
	_ = w.holder.Reload()
}

// Close stops watching. Pending debounced reloads are dropped.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}
