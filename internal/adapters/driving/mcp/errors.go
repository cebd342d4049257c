// Package mcp exposes question answering and ingestion over the Model
// Context Protocol so AI assistants can use the indexed documents.
package mcp

import "errors"

// ErrMissingChatService is returned when the chat service is not provided.
var ErrMissingChatService = errors.New("mcp: chat service is required")
