// Package inbox submits files dropped into a directory tree through upload
// intake. Files are placed at <root>/<business>/<database>/<file>.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// DefaultSettle is how long a file must stay unchanged before it is submitted.
const DefaultSettle = 500 * time.Millisecond

// Target is a file resolved to its business and database.
type Target struct {
	BusinessID string
	DatabaseID string
	Path       string
}

// Watcher watches an inbox tree.
type Watcher struct {
	root   string
	intake driving.IntakeService
	settle time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle sets the quiet period before a changed file is submitted.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// New creates a watcher over root.
func New(root string, intake driving.IntakeService, opts ...Option) *Watcher {
	w := &Watcher{
		root:   filepath.Clean(root),
		intake: intake,
		settle: DefaultSettle,
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run submits files already in the inbox, then watches for new ones until
// ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	ready := make(chan string, 64)
	defer w.stopTimers()

	if err := w.addTree(fw, w.root, func(path string) { w.schedule(ctx, ready, path) }); err != nil {
		return err
	}
	logger.Info("watching inbox %s", w.root)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && w.depth(event.Name) < 3 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !isHidden(event.Name) {
					if err := w.addTree(fw, event.Name, func(path string) { w.schedule(ctx, ready, path) }); err != nil {
						logger.Warn("inbox: %v", err)
					}
					continue
				}
			}
			if target, ok := w.handleFsEvent(event); ok {
				w.schedule(ctx, ready, target.Path)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("inbox watcher: %v", err)
		case path := <-ready:
			w.submit(ctx, path)
		}
	}
}

// addTree watches dir and its business and database subdirectories, and
// reports files already present at database level.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string, found func(path string)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		depth := w.depth(path)
		if d.IsDir() {
			if path != w.root && isHidden(path) {
				return filepath.SkipDir
			}
			if depth > 2 {
				return filepath.SkipDir
			}
			if err := fw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if _, ok := w.resolve(path); ok {
			found(path)
		}
		return nil
	})
}

// handleFsEvent resolves a create or write event to a target. Other
// operations, directories, hidden files and files outside a database
// directory are ignored.
func (w *Watcher) handleFsEvent(event fsnotify.Event) (Target, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return Target{}, false
	}
	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		return Target{}, false
	}
	return w.resolve(event.Name)
}

func (w *Watcher) resolve(path string) (Target, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return Target{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return Target{}, false
	}
	for _, p := range parts {
		if p == "" || p == ".." || strings.HasPrefix(p, ".") {
			return Target{}, false
		}
	}
	return Target{BusinessID: parts[0], DatabaseID: parts[1], Path: path}, true
}

func (w *Watcher) depth(path string) int {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(filepath.ToSlash(rel), "/"))
}

// schedule submits path once it has been quiet for the settle period.
func (w *Watcher) schedule(ctx context.Context, ready chan<- string, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) submit(ctx context.Context, path string) {
	target, ok := w.resolve(path)
	if !ok {
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("inbox: read %s: %v", path, err)
		return
	}
	ds, err := w.intake.Submit(ctx, domain.Upload{
		BusinessID:   target.BusinessID,
		DatabaseID:   target.DatabaseID,
		DeclaredName: filepath.Base(path),
		Content:      content,
	})
	switch {
	case err == nil:
		logger.Info("inbox: submitted %s as %s", path, ds.ID)
	case errors.Is(err, domain.ErrDuplicateContent):
		logger.Debug("inbox: %s already ingested", path)
	default:
		logger.Warn("inbox: submit %s: %v", path, err)
	}
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
