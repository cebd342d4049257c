// Package loaders extracts plain text from uploaded documents. Loaders are
// selected by file extension; when several match, the highest priority wins.
package loaders

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.LoaderRegistry = (*Registry)(nil)

// Registry implements LoaderRegistry with priority-based selection.
type Registry struct {
	mu      sync.RWMutex
	loaders []driven.DocumentLoader
}

// NewRegistry creates a new loader registry.
func NewRegistry() *Registry {
	return &Registry{
		loaders: make([]driven.DocumentLoader, 0),
	}
}

// Register registers a loader.
func (r *Registry) Register(loader driven.DocumentLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loaders = append(r.loaders, loader)
}

// Get retrieves the best-matching loader for a file path.
// Returns nil if no loader handles the extension.
func (r *Registry) Get(path string) driven.DocumentLoader {
	matches := r.GetAll(path)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// GetAll retrieves all loaders for a path, sorted by priority (highest first).
func (r *Registry) GetAll(path string) []driven.DocumentLoader {
	ext := Ext(path)
	if ext == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []driven.DocumentLoader
	for _, l := range r.loaders {
		for _, supported := range l.SupportedExtensions() {
			if strings.EqualFold(supported, ext) {
				matches = append(matches, l)
				break
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Priority() > matches[j].Priority()
	})

	return matches
}

// Supports reports whether a loader is registered for the path's extension.
func (r *Registry) Supports(path string) bool {
	return r.Get(path) != nil
}

// List returns all registered extensions.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	extSet := make(map[string]struct{})
	for _, l := range r.loaders {
		for _, e := range l.SupportedExtensions() {
			extSet[strings.ToLower(e)] = struct{}{}
		}
	}

	exts := make([]string, 0, len(extSet))
	for e := range extSet {
		exts = append(exts, e)
	}
	sort.Strings(exts)
	return exts
}

// Load picks a loader for path and extracts its text.
func (r *Registry) Load(ctx context.Context, path string) (string, error) {
	l := r.Get(path)
	if l == nil {
		return "", fmt.Errorf("%w: %w: %q", domain.ErrLoad, domain.ErrUnsupportedFormat, filepath.Ext(path))
	}
	return l.Load(ctx, path)
}

// Ext returns the lower-cased extension of path including the dot.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// DefaultRegistry creates a registry with every built-in loader registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(&TextLoader{})
	r.Register(&MarkdownLoader{})
	r.Register(&PDFLoader{})
	r.Register(&DOCXLoader{})
	r.Register(&XLSXLoader{})
	r.Register(&PPTXLoader{})

	return r
}

func loadError(path string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrLoad, filepath.Base(path), err)
}
