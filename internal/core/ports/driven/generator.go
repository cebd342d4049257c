package driven

import (
	"context"
)

// Generator is the opaque answer generation capability.
// The core specifies no retry contract for it.
type Generator interface {
	// Generate answers userQuery given a system context
	Generate(ctx context.Context, systemContext, userQuery string) (string, error)

	// Model returns the model name being used
	Model() string

	// Close releases resources
	Close() error
}
