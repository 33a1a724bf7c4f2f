package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cyberinferno/chatrelay/logger"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"
)

// Watcher reloads the settings file into a Store when it changes on disk or
// when Reload is called.
type Watcher struct {
	path   string
	store  *Store
	logger logger.Logger
	group  singleflight.Group
}

// ReloadResult describes one completed reload.
type ReloadResult struct {
	Changed []string
	Ignored []string
}

// NewWatcher creates a watcher for the settings file at path.
func NewWatcher(path string, store *Store, log logger.Logger) *Watcher {
	return &Watcher{
		path:   filepath.Clean(path),
		store:  store,
		logger: log.For(logger.Config),
	}
}

// Reload loads the settings file and applies it. Concurrent callers share
// a single load.
func (w *Watcher) Reload() (ReloadResult, error) {
	v, err, _ := w.group.Do("reload", func() (any, error) {
		next, err := Load(w.path)
		if err != nil {
			return ReloadResult{}, err
		}

		changed, ignored, err := w.store.Apply(next)
		if err != nil {
			return ReloadResult{}, err
		}

		return ReloadResult{Changed: changed, Ignored: ignored}, nil
	})
	if err != nil {
		w.logger.Warn("settings reload failed", logger.Err(err))
		return ReloadResult{}, err
	}

	result := v.(ReloadResult)
	for _, key := range result.Changed {
		w.logger.Info("setting reloaded", logger.Field{Key: "key", Value: key})
	}
	for _, key := range result.Ignored {
		w.logger.Warn("setting changed but needs a restart", logger.Field{Key: "key", Value: key})
	}

	return result, nil
}

// Run watches the settings file until ctx is cancelled. The parent directory
// is watched so editors that replace the file are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer func() {
		_ = fw.Close()
	}()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				_, _ = w.Reload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("settings watcher error", logger.Err(err))
		}
	}
}
