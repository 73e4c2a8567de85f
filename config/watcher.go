package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/hexapod/rangemapper/logging"
	"github.com/hexapod/rangemapper/utils"
)

// DefaultReloadDelay is how long a config file must be quiet before it is re-read. Editors
// often write a file in several steps.
const DefaultReloadDelay = 200 * time.Millisecond

// A Watcher re-reads a config file whenever it changes and hands out every version that
// validates.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	configs chan *Config
	workers utils.StoppableWorkers
	logger  logging.Logger
}

// NewWatcher starts watching filePath.
func NewWatcher(filePath string, reloadDelay time.Duration, logger logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create file watcher")
	}
	// watch the directory so files replaced by rename are still seen
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "cannot watch %q", abs), fsWatcher.Close())
	}
	if reloadDelay <= 0 {
		reloadDelay = DefaultReloadDelay
	}

	w := &Watcher{
		path:    abs,
		watcher: fsWatcher,
		configs: make(chan *Config, 1),
		logger:  logger,
	}
	w.workers = utils.NewStoppableWorkers(context.Background(), func(ctx context.Context) {
		w.watch(ctx, debounce.New(reloadDelay))
	})
	return w, nil
}

func (w *Watcher) watch(ctx context.Context, debounced func(func())) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			debounced(func() {
				w.reload(ctx)
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := readFile(w.path)
	if err != nil {
		w.logger.Warnw("ignoring changed config", "path", w.path, "error", err)
		return
	}
	w.logger.Infow("config changed", "path", w.path)
	select {
	case <-w.configs:
		// a newer version replaces one nobody has read yet
	default:
	}
	select {
	case w.configs <- cfg:
	case <-ctx.Done():
	}
}

// Configs returns every valid version of the file written after the watcher started. It is
// never closed.
func (w *Watcher) Configs() <-chan *Config {
	return w.configs
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	w.workers.Stop()
	return err
}
