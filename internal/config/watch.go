package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "referbot/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// Watch reloads the config whenever its file changes, until ctx is done.
//
// The directory is watched rather than the file so editors that replace the
// file by rename are seen. Bursts of events are coalesced into one reload.
// A broken watcher is recreated with backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	log := m.logger().With(logx.String("dir", dir), logx.String("file", file))

	changes := make(chan struct{}, 1)
	go m.debounceLoop(ctx, changes)

	backoff := watchBackoffMin
	for {
		w, err := newDirWatcher(dir)
		if err != nil {
			log.Warn("config watch init failed", logx.Err(err))
		} else {
			backoff = watchBackoffMin
			log.Debug("config watcher started")
			watchEvents(ctx, w, file, changes, log)
			_ = w.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			log.Warn("config watcher stopped; restarting")
		}

		wait := backoff + rand.N(backoff/2+1)
		backoff = min(backoff*2, watchBackoffMax)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func newDirWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// watchEvents forwards changes to file until ctx is done or w breaks.
func watchEvents(ctx context.Context, w *fsnotify.Watcher, file string, changes chan<- struct{}, log logx.Logger) {
	notify := func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == file && !ev.Has(fsnotify.Chmod) {
				notify()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events were lost; the file may have changed
				log.Warn("config watch overflow; reloading", logx.Err(err))
				notify()
				continue
			}
			log.Warn("config watch error", logx.Err(err))
		}
	}
}

// debounceLoop reloads once per quiet period after a change signal.
func (m *ConfigManager) debounceLoop(ctx context.Context, changes <-chan struct{}) {
	t := time.NewTimer(time.Hour)
	t.Stop()
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			t.Reset(reloadDebounce)
		case <-t.C:
			_, _ = m.Reload(ctx)
		}
	}
}
