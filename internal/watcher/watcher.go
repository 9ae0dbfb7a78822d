package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long config-file events are batched before the
// handler runs.
const DefaultDebounce = 100 * time.Millisecond

// ChangeHandler is called with the sqlfluff config files that changed or
// were removed since the last call.
type ChangeHandler func(changed, removed []string)

// Watcher monitors sqlfluff configuration files under a root using fsnotify
type Watcher struct {
	watcher   *fsnotify.Watcher
	rootPath  string
	handler   ChangeHandler
	debouncer *Debouncer
	logger    *zap.Logger
	done      chan struct{}
}

// New creates a new config watcher for the root path
func New(rootPath string, handler ChangeHandler, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Watcher{
		watcher:   fsw,
		rootPath:  rootPath,
		handler:   handler,
		debouncer: NewDebouncer(DefaultDebounce),
		logger:    logger,
		done:      make(chan struct{}),
	}

	return w, nil
}

// Start adds every directory under the root and begins the event loop
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if d.IsDir() {
			if path != w.rootPath && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	go w.eventLoop()

	w.logger.Info("config watcher started", zap.String("root", w.rootPath))
	return nil
}

// Run starts the watcher and blocks until ctx is done, then closes it.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		_ = w.watcher.Close()
		return err
	}
	<-ctx.Done()
	return w.Close()
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
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
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		// New directories may hold their own .sqlfluff
		if info, err := os.Lstat(path); err == nil && info.IsDir() {
			if !skipDir(filepath.Base(path)) {
				if err := w.watcher.Add(path); err != nil {
					w.logger.Warn("failed to watch new directory", zap.String("path", path), zap.Error(err))
				}
			}
			return
		}
	}

	if !IsConfigFile(path) {
		return
	}

	w.debouncer.Add(path, event.Op)
	w.debouncer.Flush(func(changed, removed []string) {
		w.logger.Info("sqlfluff config changed",
			zap.Strings("changed", changed),
			zap.Strings("removed", removed))
		w.handler(changed, removed)
	})
}

// Close stops the watcher
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	w.debouncer.Stop()
	return w.watcher.Close()
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules" || name == "venv" || name == "__pycache__"
}

// IsConfigFile reports whether path names a file sqlfluff reads its
// configuration or ignore patterns from.
func IsConfigFile(path string) bool {
	switch filepath.Base(path) {
	case ".sqlfluff", "setup.cfg", "tox.ini", "pyproject.toml", ".sqlfluffignore":
		return true
	}
	return false
}
