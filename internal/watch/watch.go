// Package watch raises debounced change notifications for terraform source
// files so the dashboard can flag a displayed plan as stale.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tfdeck/tfdeck/internal/logging"
)

// DefaultDebounce is the settle window applied when none is configured.
// Editors write files several times in quick succession on save.
const DefaultDebounce = 500 * time.Millisecond

// scanInterval is how often pending events are checked against the window.
const scanInterval = 100 * time.Millisecond

// Change op values.
const (
	OpCreate = "create"
	OpModify = "modify"
	OpDelete = "delete"
	OpRename = "rename"
)

// Change is one settled file change.
type Change struct {
	Path string
	Op   string
}

// Watcher watches a workspace tree for *.tf and *.tfvars changes,
// recursively, with per-path debouncing. Changes are delivered on Events;
// the channel is closed by Close.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration
	events   chan Change
	log      *logging.Logger

	mu      sync.Mutex
	pending map[string]pendingChange

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

type pendingChange struct {
	op   string
	last time.Time
}

// New starts watching the tree rooted at root. The .terraform, .tfdeck and
// .git directories are excluded so plugin downloads and our own run records
// do not flag the plan stale.
func New(root string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fsw,
		root:     root,
		debounce: debounce,
		events:   make(chan Change, 16),
		log:      logging.New().With("component", "watch"),
		pending:  make(map[string]pendingChange),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// Events returns the channel of settled changes.
func (w *Watcher) Events() <-chan Change {
	return w.events
}

// Close stops the watcher and closes the Events channel. Safe to call more
// than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		err = w.watcher.Close()
	})
	return err
}

// excludedDir reports whether a directory's contents should not be watched.
func excludedDir(name string) bool {
	switch name {
	case ".terraform", ".tfdeck", ".git":
		return true
	}
	return false
}

// relevant reports whether a path is a terraform source file.
func relevant(path string) bool {
	return strings.HasSuffix(path, ".tf") || strings.HasSuffix(path, ".tfvars")
}

// addTree registers root and every non-excluded subdirectory.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && excludedDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	defer close(w.events)

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)

		case <-ticker.C:
			w.flushSettled()
		}
	}
}

// handleEvent records a relevant file event for debouncing, and extends the
// watch into newly created directories.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !excludedDir(filepath.Base(event.Name)) {
				if err := w.addTree(event.Name); err != nil {
					w.log.Warn("failed to watch new directory", "path", event.Name, "error", err)
				}
			}
			return
		}
	}

	if !relevant(event.Name) {
		return
	}

	var op string
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return // chmod etc.
	}

	w.mu.Lock()
	w.pending[event.Name] = pendingChange{op: op, last: time.Now()}
	w.mu.Unlock()
}

// flushSettled emits changes whose last event is older than the debounce
// window. A full Events buffer drops the change; any one delivery already
// marks the plan stale.
func (w *Watcher) flushSettled() {
	now := time.Now()

	w.mu.Lock()
	var settled []Change
	for path, pc := range w.pending {
		if now.Sub(pc.last) >= w.debounce {
			settled = append(settled, Change{Path: path, Op: pc.op})
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, c := range settled {
		select {
		case w.events <- c:
		default:
			w.log.Debug("dropping change, events buffer full", "path", c.Path)
		}
	}
}
