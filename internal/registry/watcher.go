package registry

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/sonatahq/sonata/internal/logging"
)

// TableWatcher hot-reloads the static capability table when its file
// changes on disk. Watch failures degrade gracefully: the directory keeps
// its last good table.
type TableWatcher struct {
	path      string
	directory *Directory
	logger    logging.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchStaticTable starts watching the capability table file. The caller
// must Close the returned watcher to stop it.
func WatchStaticTable(path string, directory *Directory, logger logging.Logger) (*TableWatcher, error) {
	if logger == nil {
		logger = logging.NoOp{}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the containing directory: editors often replace the file,
	// which drops a watch installed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	tw := &TableWatcher{
		path:      path,
		directory: directory,
		logger:    logger,
		watcher:   watcher,
		done:      make(chan struct{}),
	}
	go tw.loop()
	return tw, nil
}

func (tw *TableWatcher) loop() {
	for {
		select {
		case <-tw.done:
			return
		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(tw.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			table, err := LoadStaticTable(tw.path)
			if err != nil {
				tw.logger.Warn("capability table reload failed", "path", tw.path, "error", err)
				continue
			}
			tw.directory.ReloadStatic(table)
			tw.logger.Info("capability table reloaded", "path", tw.path)
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			tw.logger.Warn("capability table watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (tw *TableWatcher) Close() error {
	close(tw.done)
	return tw.watcher.Close()
}
