package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads fiberpool.yaml whenever it changes on disk and
// invokes a callback with the freshly parsed Config — the same
// debounced fsnotify.Watcher idiom the dev server uses to detect
// source edits, pointed at one file instead of a whole tree.
type Watcher struct {
	fsw         *fsnotify.Watcher
	projectPath string
	onReload    func(*Config)

	mu   sync.Mutex
	done chan struct{}
}

// NewWatcher starts watching projectPath for changes to fiberpool.yaml.
// onReload is invoked (from the watcher's own goroutine) every time the
// file changes and re-parses successfully.
func NewWatcher(projectPath string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(projectPath); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{fsw: fsw, projectPath: projectPath, onReload: onReload, done: make(chan struct{})}
	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	var debounce *time.Timer
	var debounceC <-chan time.Time
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(100 * time.Millisecond)
			} else {
				debounce.Reset(100 * time.Millisecond)
			}
			debounceC = debounce.C
		case <-debounceC:
			debounceC = nil
			cfg, err := Load(w.projectPath)
			if err != nil {
				continue
			}
			w.onReload(cfg)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}
