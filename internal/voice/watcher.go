package voice

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher invalidates a Catalog when files change under the store roots.
// fsnotify is not recursive, so each voice directory is watched
// individually and new directories are added as they appear.
type Watcher struct {
	watcher *fsnotify.Watcher
	catalog *Catalog
	roots   []string
	logger  *log.Logger
}

// NewWatcher watches roots and every directory beneath them.
func NewWatcher(catalog *Catalog, roots ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher: fw,
		catalog: catalog,
		roots:   roots,
		logger:  log.WithPrefix("watcher"),
	}
	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.logger.Debug("fsnotify watching dir", "dir", path)
		return nil
	})
}

// Run processes events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.logger.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			if event.Has(fsnotify.Create) {
				// new voice directories need their own watch; files are skipped
				if err := w.addTree(event.Name); err != nil {
					w.logger.Debug("fsnotify add skipped", "path", event.Name, "error", err)
				}
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Write) {
				w.catalog.Invalidate()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
