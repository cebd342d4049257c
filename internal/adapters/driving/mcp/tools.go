package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// AskInput is the input schema for the ask tool.
type AskInput struct {
	Question string `json:"question" jsonschema:"the question to answer from the indexed documents"`
	K        int    `json:"k,omitempty" jsonschema:"number of passages to use as context (default from configuration)"`
}

// AskOutput is the output schema for the ask tool.
type AskOutput struct {
	Answer   string          `json:"answer"`
	Passages []PassageOutput `json:"passages"`
}

// RetrieveInput is the input schema for the retrieve tool.
type RetrieveInput struct {
	Query string `json:"query" jsonschema:"text to find similar passages for"`
	K     int    `json:"k,omitempty" jsonschema:"maximum number of passages to return (default 5)"`
}

// RetrieveOutput is the output schema for the retrieve tool.
type RetrieveOutput struct {
	Passages []PassageOutput `json:"passages"`
	Count    int             `json:"count"`
}

// PassageOutput is one retrieved chunk.
type PassageOutput struct {
	ID       string  `json:"id"`
	Source   string  `json:"source"`
	Sequence int     `json:"sequence"`
	Score    float64 `json:"score"`
	Content  string  `json:"content"`
}

// IngestInput is the input schema for the ingest tool.
type IngestInput struct {
	Path string `json:"path" jsonschema:"absolute path of a file readable by the server"`
}

// JobInput names one ingestion job.
type JobInput struct {
	ID string `json:"id" jsonschema:"ingestion job id"`
}

// JobOutput summarises an ingestion job.
type JobOutput struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Status   string `json:"status"`
	Stage    string `json:"stage"`
	Attempts int    `json:"attempts"`
	Chunks   int    `json:"chunks,omitempty"`
	Error    string `json:"error,omitempty"`
}

const defaultRetrieveK = 5

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question using passages from the indexed documents",
	}, s.handleAsk)

	if s.ports.Retriever != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "retrieve",
			Description: "Find the indexed passages most similar to a query",
		}, s.handleRetrieve)
	}

	if s.ports.Ingestion != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "ingest",
			Description: "Queue a local file for ingestion into the index",
		}, s.handleIngest)
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "job_status",
			Description: "Report the state of an ingestion job",
		}, s.handleJobStatus)
	}
}

func (s *Server) handleAsk(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	answer, err := s.ports.Chat.Answer(ctx, input.Question, domain.AnswerOptions{TopK: input.K})
	if err != nil {
		return nil, AskOutput{}, err
	}
	return nil, AskOutput{
		Answer:   answer.Text,
		Passages: passages(answer.Documents),
	}, nil
}

func (s *Server) handleRetrieve(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RetrieveInput,
) (*mcp.CallToolResult, RetrieveOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, RetrieveOutput{}, fmt.Errorf("%w: query is required", domain.ErrInvalidInput)
	}
	k := input.K
	if k <= 0 {
		k = defaultRetrieveK
	}

	docs, err := s.ports.Retriever.Retrieve(ctx, query, k)
	if err != nil {
		return nil, RetrieveOutput{}, err
	}
	out := passages(docs)
	return nil, RetrieveOutput{Passages: out, Count: len(out)}, nil
}

func (s *Server) handleIngest(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestInput,
) (*mcp.CallToolResult, JobOutput, error) {
	if !filepath.IsAbs(input.Path) {
		return nil, JobOutput{}, fmt.Errorf("%w: path must be absolute", domain.ErrInvalidInput)
	}
	job, err := s.ports.Ingestion.Submit(ctx, input.Path, filepath.Base(input.Path))
	if err != nil {
		return nil, JobOutput{}, err
	}
	return nil, jobOutput(job), nil
}

func (s *Server) handleJobStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input JobInput,
) (*mcp.CallToolResult, JobOutput, error) {
	job, err := s.ports.Ingestion.GetJob(ctx, input.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, JobOutput{}, fmt.Errorf("no ingestion job %q", input.ID)
		}
		return nil, JobOutput{}, err
	}
	return nil, jobOutput(job), nil
}

func passages(docs domain.RetrievalResult) []PassageOutput {
	out := make([]PassageOutput, len(docs))
	for i, d := range docs {
		out[i] = PassageOutput{
			ID:       d.ID,
			Source:   d.Source(),
			Sequence: d.SequenceIndex(),
			Score:    d.Score,
			Content:  d.Content,
		}
	}
	return out
}

func jobOutput(job *domain.IngestionJob) JobOutput {
	return JobOutput{
		ID:       job.ID,
		Source:   job.SourceRef(),
		Status:   string(job.Status),
		Stage:    string(job.Stage),
		Attempts: job.Attempts,
		Chunks:   job.ChunkCount,
		Error:    job.Error,
	}
}
