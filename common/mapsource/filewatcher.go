/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package mapsource

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// FileWatcher notifies subscribers whenever a single file is written or
// replaced.  The parent directory is watched rather than the file itself so
// that editors and config management tools which rename a new file into
// place are still observed.
//
// Notifications carry no data and are coalesced: a subscriber which has not
// yet consumed a pending notification does not receive a second one.
type FileWatcher struct {
	logger *zap.Logger
	path   string

	lock     sync.Mutex
	watchers map[uuid.UUID]chan<- struct{}
	watch    *fsnotify.Watcher
	doneCh   chan struct{}
}

func NewFileWatcher(path string, logger *zap.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve watched path")
	}

	watch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}

	w := &FileWatcher{
		logger:   logger,
		path:     absPath,
		watchers: make(map[uuid.UUID]chan<- struct{}),
		watch:    watch,
		doneCh:   make(chan struct{}),
	}

	go w.watchThread()

	err = watch.Add(filepath.Dir(absPath))
	if err != nil {
		_ = w.Close()
		return nil, errors.Wrap(err, "failed to watch directory")
	}

	return w, nil
}

func (w *FileWatcher) isWatchedFile(name string) bool {
	absName, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	return absName == w.path
}

func (w *FileWatcher) watchThread() {
	defer close(w.doneCh)

	for {
		select {
		case event, ok := <-w.watch.Events:
			if !ok {
				return
			}

			if !w.isWatchedFile(event.Name) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Debug("watched file changed",
					zap.String("path", w.path),
					zap.String("op", event.Op.String()))
				w.broadcast()
			}

		case err, ok := <-w.watch.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.String("path", w.path), zap.Error(err))
		}
	}
}

func (w *FileWatcher) broadcast() {
	w.lock.Lock()
	defer w.lock.Unlock()

	for _, ch := range w.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers ch for change notifications and returns a function
// which removes the subscription.  ch should have a buffer of at least one.
func (w *FileWatcher) Subscribe(ch chan<- struct{}) func() {
	id := uuid.New()

	w.lock.Lock()
	w.watchers[id] = ch
	w.lock.Unlock()

	return func() {
		w.lock.Lock()
		delete(w.watchers, id)
		w.lock.Unlock()
	}
}

func (w *FileWatcher) Close() error {
	err := w.watch.Close()
	<-w.doneCh
	return err
}
