package driven

import (
	"context"
)

// DocumentLoader extracts raw text from a source file.
// Unreadable or corrupt files fail with an error wrapping domain.ErrLoad.
type DocumentLoader interface {
	// Load reads the file at path and returns its text in reading order
	Load(ctx context.Context, path string) (string, error)

	// SupportedExtensions returns lower-case extensions including the dot, e.g. ".pdf"
	SupportedExtensions() []string

	// Priority returns the loader priority (higher = more specific).
	Priority() int
}

// LoaderRegistry picks a loader by file extension.
type LoaderRegistry interface {
	// Get retrieves the highest priority loader for a path, or nil.
	Get(path string) DocumentLoader

	// Register registers a loader.
	Register(loader DocumentLoader)

	// Supports reports whether any loader handles the path
	Supports(path string) bool

	// List returns all registered extensions.
	List() []string
}
