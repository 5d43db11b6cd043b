package daemon

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mountlink/mountlink/logging"
)

const debounceInterval = 300 * time.Millisecond

// Watcher monitors the mount root for filesystem changes and forwards
// batches of relative paths that appeared. The daemon uses these to retry
// downloads whose content showed up after polling gave up.
type Watcher struct {
	mountRoot string
	onAppear  func(relPaths []string)
	watcher   *fsnotify.Watcher
}

// NewWatcher creates a filesystem watcher for the mount root.
func NewWatcher(mountRoot string, onAppear func(relPaths []string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		mountRoot: mountRoot,
		onAppear:  onAppear,
		watcher:   w,
	}, nil
}

// Start begins watching and debouncing events. Blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	log := logging.Sub("watcher")

	if err := w.addRecursive(w.mountRoot); err != nil {
		return err
	}

	log.Info("watching mount root", "root", w.mountRoot)

	// Debounce timer and pending paths
	pending := make(map[string]struct{})
	timer := time.NewTimer(debounceInterval)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			relPath := w.toRelPath(event.Name)
			if relPath == "" || relPath == "." {
				continue
			}

			// Skip hidden files
			base := filepath.Base(event.Name)
			if strings.HasPrefix(base, ".") {
				continue
			}

			pending[relPath] = struct{}{}

			// Reset debounce timer
			timer.Reset(debounceInterval)

			// If a new directory was created, add it to watch
			if event.Has(fsnotify.Create) {
				// Try adding as directory (no-op if it's a file)
				w.watcher.Add(event.Name) //nolint:errcheck
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "err", err)

		case <-timer.C:
			// Debounce timer fired, flush pending paths
			if len(pending) > 0 {
				paths := make([]string, 0, len(pending))
				for p := range pending {
					paths = append(paths, p)
				}
				pending = make(map[string]struct{})
				log.Debug("flushing appeared paths", "count", len(paths))
				w.onAppear(paths)
			}
		}
	}
}

// toRelPath converts an absolute path to a path relative to the mount root.
func (w *Watcher) toRelPath(absPath string) string {
	rel, err := filepath.Rel(w.mountRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return rel
}

// addRecursive adds a directory and all subdirectories to the watcher.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible dirs
		}
		if d.IsDir() {
			base := filepath.Base(path)
			if strings.HasPrefix(base, ".") && path != root {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		}
		return nil
	})
}

// Close closes the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
