// Package watch queues ingestion jobs for files that appear or change in
// watched directories.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
)

// DefaultDebounce is how long a file must stay quiet before it is queued
const DefaultDebounce = 500 * time.Millisecond

// action is what the watcher does with one filesystem event
type action int

const (
	actionIgnore action = iota
	actionIngest
	actionWatchDir
	actionRemoved
)

// Config configures a Watcher
type Config struct {
	// Dirs are watched recursively
	Dirs []string

	// Debounce coalesces bursts of writes to one file into a single job
	Debounce time.Duration

	// IngestExisting queues every supported file already present at start
	IngestExisting bool

	// OnSubmit is called after each job is queued; optional
	OnSubmit func(*domain.IngestionJob)

	Logger *slog.Logger
}

// Watcher turns filesystem events into ingestion jobs
type Watcher struct {
	ingestion driving.IngestionService
	dirs      []string
	debounce  time.Duration
	existing  bool
	onSubmit  func(*domain.IngestionJob)
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a Watcher that submits files through ingestion
func New(ingestion driving.IngestionService, cfg Config) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		ingestion: ingestion,
		dirs:      cfg.Dirs,
		debounce:  debounce,
		existing:  cfg.IngestExisting,
		onSubmit:  cfg.OnSubmit,
		logger:    logger,
		pending:   make(map[string]*time.Timer),
	}
}

// Run watches until ctx is cancelled. Pending debounced submissions are
// dropped on return.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.dirs) == 0 {
		return fmt.Errorf("%w: no directories to watch", domain.ErrInvalidInput)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()
	defer w.cancelPending()

	for _, dir := range w.dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", dir, err)
		}
		if err := w.addTree(ctx, fsw, abs, w.existing); err != nil {
			return err
		}
		w.logger.Info("watching directory", "dir", abs)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// addTree watches root and every visible directory below it. With submit
// set, supported files found on the way are queued immediately.
func (w *Watcher) addTree(ctx context.Context, fsw *fsnotify.Watcher, root string, submit bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		if path != root && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if submit && d.Type().IsRegular() && w.supported(path) {
			w.submit(ctx, path)
		}
		return nil
	})
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	switch classify(event) {
	case actionIngest:
		if w.supported(event.Name) {
			w.schedule(ctx, event.Name)
		}
	case actionWatchDir:
		// Files created together with the directory may predate the watch
		if err := w.addTree(ctx, fsw, event.Name, true); err != nil {
			w.logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
		}
	case actionRemoved:
		w.unschedule(event.Name)
		w.logger.Debug("file removed, indexed chunks are kept", "path", event.Name)
	}
}

// classify maps an event to an action. Hidden paths and attribute changes
// are ignored; the path is stat'ed to tell files from directories.
func classify(event fsnotify.Event) action {
	if isHidden(event.Name) {
		return actionIgnore
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return actionRemoved
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil {
			return actionIgnore
		}
		if info.IsDir() {
			if event.Has(fsnotify.Create) {
				return actionWatchDir
			}
			return actionIgnore
		}
		if !info.Mode().IsRegular() {
			return actionIgnore
		}
		return actionIngest
	default:
		return actionIgnore
	}
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func (w *Watcher) supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.ingestion.SupportedExtensions() {
		if e == ext {
			return true
		}
	}
	return false
}

// schedule queues path once it has been quiet for the debounce interval
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.submit(ctx, path)
	})
}

func (w *Watcher) unschedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) submit(ctx context.Context, path string) {
	job, err := w.ingestion.Submit(ctx, path, filepath.Base(path))
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrUnsupportedFormat) {
			level = slog.LevelDebug
		}
		w.logger.Log(ctx, level, "failed to queue file", "path", path, "error", err)
		return
	}
	w.logger.Info("file queued", "path", path, "job_id", job.ID)
	if w.onSubmit != nil {
		w.onSubmit(job)
	}
}
