// Package watcher mirrors edits made directly on disk, under the project
// root, into the overlay store's "stable" namespace. fsnotify only watches
// individual directories, so the watcher recursively adds a watch for every
// directory under root and re-arms it when new directories appear.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/cairn-dev/cairn/internal/cairnerr"
	"github.com/cairn-dev/cairn/internal/diag"
	"github.com/cairn-dev/cairn/internal/overlay"
)

// DefaultIgnore lists directory names the watcher never descends into.
var DefaultIgnore = []string{".agentfs", ".git", ".jj", "__pycache__", "node_modules"}

// Watcher mirrors root into the overlay store's stable namespace.
type Watcher struct {
	root    string
	ov      *overlay.Store
	ns      string
	ignore  map[string]bool
	fsw     *fsnotify.Watcher
}

// New creates a Watcher rooted at root, mirroring into namespace ns
// ("stable"). It does the initial recursive fsnotify registration but does
// not perform the first full sync; call Run to start the event loop.
func New(root, ns string, ov *overlay.Store, ignore []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, cairnerr.IO("watcher.New", fmt.Errorf("create fsnotify watcher: %w", err))
	}

	ig := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		ig[name] = true
	}

	w := &Watcher{root: root, ov: ov, ns: ns, ignore: ig, fsw: fsw}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Sync performs a full walk of root, writing every file it finds into the
// stable namespace. Call once at startup before Run so the overlay store
// reflects disk state from before the process existed.
func (w *Watcher) Sync() error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if w.isIgnoredName(d.Name()) && path != w.root {
				return filepath.SkipDir
			}
			return nil
		}
		return w.syncFile(path)
	})
}

// Run blocks, dispatching fsnotify events into the overlay store until ctx
// is cancelled. Per-event errors are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			diag.Logf("watcher", "fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.isIgnoredPath(ev.Name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				diag.Logf("watcher", "add watch for %s: %v", ev.Name, err)
			}
			return
		}
		if err := w.syncFile(ev.Name); err != nil {
			diag.Logf("watcher", "sync %s: %v", ev.Name, err)
		}
	case ev.Has(fsnotify.Write):
		if err := w.syncFile(ev.Name); err != nil {
			diag.Logf("watcher", "sync %s: %v", ev.Name, err)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if err := w.removePath(ev.Name); err != nil {
			diag.Logf("watcher", "remove %s: %v", ev.Name, err)
		}
	}
}

func (w *Watcher) syncFile(absPath string) error {
	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cairnerr.IO("watcher.syncFile", err)
	}
	if info.IsDir() {
		return nil
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return cairnerr.IO("watcher.syncFile", err)
	}
	rel, err := w.relPath(absPath)
	if err != nil {
		return err
	}
	return w.ov.WriteFile(w.ns, rel, data)
}

func (w *Watcher) removePath(absPath string) error {
	rel, err := w.relPath(absPath)
	if err != nil {
		return err
	}
	return w.ov.DeleteFile(w.ns, rel)
}

func (w *Watcher) relPath(absPath string) (string, error) {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil {
		return "", cairnerr.Invalid("watcher.relPath", err)
	}
	return filepath.ToSlash(rel), nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.isIgnoredName(d.Name()) && path != dir {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return cairnerr.IO("watcher.addRecursive", fmt.Errorf("watch %s: %w", path, err))
		}
		return nil
	})
}

func (w *Watcher) isIgnoredName(name string) bool {
	return w.ignore[name]
}

func (w *Watcher) isIgnoredPath(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if w.ignore[part] {
			return true
		}
	}
	return false
}
