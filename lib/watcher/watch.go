// Copyright 2015 Tamás Demeter-Haludka
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Recursive file watcher. The view engine uses it to drop its template cache when a template or the asset manifest changes.
package watcher

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pulseframe/pulse/lib/log"
	"gopkg.in/fsnotify.v1"
)

type Watcher struct {
	Ignores []Ignorer
	Logger  *log.Log
	// Called with the name of every changed file.
	Action func(string)
	Error  func(error)

	watcher *fsnotify.Watcher
}

func NewWatcher(logger *log.Log, action func(string)) *Watcher {
	if logger == nil {
		logger = log.DefaultLogger(io.Discard)
	}

	return &Watcher{
		Ignores: []Ignorer{HiddenIgnorer},
		Logger:  logger,
		Action:  action,
	}
}

// Watches the given files and directories (recursively) until ctx is done.
//
// Missing paths are skipped. New directories are watched as they appear.
func (w *Watcher) Watch(ctx context.Context, paths ...string) error {
	var err error
	w.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.watcher.Close()

	for _, p := range paths {
		if err := w.watch(p); err != nil {
			if os.IsNotExist(err) {
				w.Logger.Verbose().Printf("Not watching missing path %s\n", p)
				continue
			}
			return err
		}
	}

	return w.listen(ctx)
}

func (w *Watcher) listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.ignored(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create > 0 {
				if err := w.watch(event.Name); err != nil {
					w.Logger.Verbose().Println(err)
				}
			}
			if event.Op&fsnotify.Chmod == 0 {
				w.Logger.Trace().Println(event)
				if w.Action != nil {
					w.Action(event.Name)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				w.Logger.Verbose().Println(err)
				if w.Error != nil {
					w.Error(err)
				}
			}
		}
	}
}

func (w *Watcher) watch(name string) error {
	if w.ignored(name) {
		return nil
	}

	stat, err := os.Stat(name)
	if err != nil {
		return err
	}

	if !stat.IsDir() {
		w.Logger.Verbose().Printf("Watching file %s\n", name)
		return w.watcher.Add(name)
	}

	if err := w.watcher.Add(name); err != nil {
		return err
	}
	w.Logger.Verbose().Printf("Watching directory %s\n", name)

	entries, err := os.ReadDir(name)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := w.watch(filepath.Join(name, e.Name())); err != nil {
			return err
		}
	}

	return nil
}

func (w *Watcher) ignored(name string) bool {
	base := filepath.Base(name)
	for _, i := range w.Ignores {
		if i.Ignored(base) {
			return true
		}
	}

	return false
}
