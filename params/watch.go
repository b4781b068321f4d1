// Copyright 2025 The go-felt Authors
// This file is part of the go-felt library.
//
// The go-felt library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-felt library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-felt library. If not, see <http://www.gnu.org/licenses/>.

package params

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch re-reads the config file whenever it changes and hands the result to
// apply. Parse errors keep the previous config and are logged; the watcher
// stops when ctx is cancelled. Editors that replace the file atomically
// generate Rename/Remove events, so the path is re-added on those.
func Watch(ctx context.Context, path string, apply func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("params: watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("params: watch %s: %w", path, err)
	}
	log := logrus.WithField("component", "params")

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
					// Re-arm after atomic replace.
					if err := watcher.Add(path); err != nil {
						log.WithError(err).Warn("config watch lost")
						return
					}
				}
				cfg, err := Load(path)
				if err != nil {
					log.WithError(err).Warn("config reload failed, keeping previous")
					continue
				}
				log.Info("config reloaded")
				apply(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watcher error")
			}
		}
	}()
	return nil
}
