package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// catalogDebounce collapses the burst of events an editor produces when it
// saves a file.
const catalogDebounce = 200 * time.Millisecond

// catalogWatcher re-applies the catalog file when it changes.
type catalogWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	stopCh  chan struct{}
	done    sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
}

// Watch re-applies the catalog at path whenever the file is written or
// replaced. A catalog that fails to load is logged and the current one stays
// in effect. Watch replaces any previous watch.
func (p *Pipeline) Watch(ctx context.Context, path string) error {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors and config management replace the file
	// rather than writing it in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &catalogWatcher{
		watcher: watcher,
		path:    path,
		stopCh:  make(chan struct{}),
	}

	p.stopWatch()
	p.watchMu.Lock()
	p.watcher = w
	p.watchMu.Unlock()

	reloadCtx := context.WithoutCancel(ctx)
	w.done.Add(1)
	go p.processCatalogEvents(reloadCtx, w)

	p.logger.Info("Watching catalog", "path", path)
	return nil
}

func (p *Pipeline) processCatalogEvents(ctx context.Context, w *catalogWatcher) {
	defer w.done.Done()
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			w.debounce(func() { p.reloadCatalog(ctx, w.path) })

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("Catalog watcher error", "error", err)
		}
	}
}

func (w *catalogWatcher) debounce(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(catalogDebounce, fn)
}

func (w *catalogWatcher) stop() {
	close(w.stopCh)
	w.watcher.Close()
	w.done.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (p *Pipeline) reloadCatalog(ctx context.Context, path string) {
	c, err := loadCatalog(path)
	if err != nil {
		p.logger.Warn("Ignoring invalid catalog", "path", path, "error", err)
		return
	}
	if err := p.Apply(ctx, c); err != nil {
		p.logger.Error("Catalog applied with errors", "path", path, "error", err)
		return
	}
	p.logger.Info("Catalog reloaded", "path", path, "providers", p.registry.Len())
}

func (p *Pipeline) stopWatch() {
	p.watchMu.Lock()
	w := p.watcher
	p.watcher = nil
	p.watchMu.Unlock()

	if w != nil {
		w.stop()
	}
}
