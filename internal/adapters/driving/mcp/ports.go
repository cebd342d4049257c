package mcp

import (
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
)

// Ports aggregates the driving ports the MCP server calls into.
type Ports struct {
	// Chat answers questions. Required.
	Chat driving.ChatService

	// Retriever returns raw passages without generation. Optional.
	Retriever driving.Retriever

	// Ingestion queues files and reports job state. Optional.
	Ingestion driving.IngestionService
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Chat == nil {
		return ErrMissingChatService
	}
	return nil
}
