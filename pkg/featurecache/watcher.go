package featurecache

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/samplemind/samplemind-core/pkg/logging"
)

// watcher invalidates cache entries when their source files change on disk.
type watcher struct {
	fs     *fsnotify.Watcher
	cache  *Cache
	logger *logging.Logger

	mutex   sync.Mutex
	watched map[string]bool

	done chan struct{}
	once sync.Once
}

// EnableWatcher starts invalidating entries whose source files are modified
// or removed. Paths are registered as bundles are stored.
func (c *Cache) EnableWatcher() error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w := &watcher{
		fs:      fs,
		cache:   c,
		logger:  c.logger,
		watched: make(map[string]bool),
		done:    make(chan struct{}),
	}
	c.watcher = w

	// register sources already known from this process
	c.indexMu.Lock()
	for path := range c.pathIndex {
		w.track(path)
	}
	c.indexMu.Unlock()

	go w.loop()
	return nil
}

func (w *watcher) track(path string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.watched[path] {
		return
	}
	if err := w.fs.Add(path); err != nil {
		w.logger.Warn("cannot watch source file", "path", path, "error", err)
		return
	}
	w.watched[path] = true
}

func (w *watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.cache.InvalidateSource(event.Name)
				w.mutex.Lock()
				delete(w.watched, event.Name)
				w.mutex.Unlock()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *watcher) stop() {
	w.once.Do(func() {
		close(w.done)
		w.fs.Close()
	})
}
