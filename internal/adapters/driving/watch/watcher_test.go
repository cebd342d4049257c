package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/adapters/driven/queue/memory"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/services"
	"github.com/custodia-labs/sercha-rag/internal/loaders"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		setupFile   bool
		setupDir    bool
		setupHidden bool
		operation   fsnotify.Op
		expected    action
	}{
		{name: "create file event", setupFile: true, operation: fsnotify.Create, expected: actionIngest},
		{name: "write file event", setupFile: true, operation: fsnotify.Write, expected: actionIngest},
		{name: "remove file event", operation: fsnotify.Remove, expected: actionRemoved},
		{name: "rename file event", operation: fsnotify.Rename, expected: actionRemoved},
		{name: "chmod file event - not handled", setupFile: true, operation: fsnotify.Chmod, expected: actionIgnore},
		{name: "create directory event", setupDir: true, operation: fsnotify.Create, expected: actionWatchDir},
		{name: "write directory event", setupDir: true, operation: fsnotify.Write, expected: actionIgnore},
		{name: "create vanished file", operation: fsnotify.Create, expected: actionIgnore},
		{name: "hidden file create - should be skipped", setupHidden: true, operation: fsnotify.Create, expected: actionIgnore},
		{name: "hidden file remove - should be skipped", setupHidden: true, operation: fsnotify.Remove, expected: actionIgnore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "doc.txt")
			switch {
			case tt.setupHidden:
				path = filepath.Join(dir, ".doc.txt")
				require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
			case tt.setupDir:
				path = filepath.Join(dir, "sub")
				require.NoError(t, os.Mkdir(path, 0o755))
			case tt.setupFile:
				require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
			}

			got := classify(fsnotify.Event{Name: path, Op: tt.operation})
			assert.Equal(t, tt.expected, got)
		})
	}
}

// submissions collects jobs queued by a running watcher
type submissions struct {
	mu   sync.Mutex
	jobs []*domain.IngestionJob
}

func (s *submissions) add(job *domain.IngestionJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

func (s *submissions) names() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for _, j := range s.jobs {
		out[j.OriginalName]++
	}
	return out
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestWatcher_Run(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "seed.txt"), "already here")

	queue := memory.NewQueue(driven.QueueOptions{})
	ingestion := services.NewIngestionService(queue, loaders.DefaultRegistry(), services.IngestionOptions{})

	got := &submissions{}
	w := New(ingestion, Config{
		Dirs:           []string{dir},
		Debounce:       40 * time.Millisecond,
		IngestExisting: true,
		OnSubmit:       got.add,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The seed file is queued after the root directory is watched
	require.Eventually(t, func() bool { return got.names()["seed.txt"] == 1 }, 5*time.Second, 10*time.Millisecond)

	notes := filepath.Join(dir, "notes.md")
	write(t, notes, "# first")
	write(t, notes, "# first\n\nsecond")
	write(t, filepath.Join(dir, ".hidden.txt"), "secret")
	write(t, filepath.Join(dir, "image.png"), "pixels")

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.Eventually(t, func() bool {
		write(t, filepath.Join(sub, "deep.txt"), "below")
		return got.names()["deep.txt"] >= 1
	}, 5*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool { return got.names()["notes.md"] >= 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}

	names := got.names()
	assert.Equal(t, 1, names["notes.md"], "bursts of writes are coalesced")
	assert.NotContains(t, names, ".hidden.txt")
	assert.NotContains(t, names, "image.png")

	total := 0
	for _, n := range names {
		total += n
	}
	stats, err := ingestion.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(total), stats.PendingCount)
}

func TestWatcher_RunRequiresDirs(t *testing.T) {
	w := New(nil, Config{})
	err := w.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestWatcher_RunMissingDir(t *testing.T) {
	queue := memory.NewQueue(driven.QueueOptions{})
	ingestion := services.NewIngestionService(queue, loaders.DefaultRegistry(), services.IngestionOptions{})

	w := New(ingestion, Config{Dirs: []string{filepath.Join(t.TempDir(), "missing")}})
	assert.Error(t, w.Run(context.Background()))
}
