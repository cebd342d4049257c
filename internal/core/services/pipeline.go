package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-rag/internal/chunker"
	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

// entryNamespace scopes content-keyed index entry ids
var entryNamespace = uuid.MustParse("6f1b2a9c-4f57-4d53-9a0e-2f6c1de0b7a4")

// StageObserver is told about every stage a job reaches
type StageObserver func(ctx context.Context, job *domain.IngestionJob, stage domain.JobStage)

// PipelineOptions configures an IngestionPipeline
type PipelineOptions struct {
	IDStrategy domain.IDStrategy
	Logger     *slog.Logger
}

// IngestionPipeline runs one job through load, chunk, embed and index.
// It is stateless between jobs and safe for concurrent use by many workers.
type IngestionPipeline struct {
	loaders    driven.LoaderRegistry
	chunker    *chunker.Chunker
	index      driven.VectorIndex
	services   *runtime.Services
	idStrategy domain.IDStrategy
	logger     *slog.Logger
}

// NewIngestionPipeline creates a new IngestionPipeline.
// The embedder is looked up through services on every run so it can be
// reconfigured without restarting workers.
func NewIngestionPipeline(
	loaders driven.LoaderRegistry,
	ch *chunker.Chunker,
	index driven.VectorIndex,
	services *runtime.Services,
	opts PipelineOptions,
) *IngestionPipeline {
	if opts.IDStrategy == "" {
		opts.IDStrategy = domain.IDStrategyRandom
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &IngestionPipeline{
		loaders:    loaders,
		chunker:    ch,
		index:      index,
		services:   services,
		idStrategy: opts.IDStrategy,
		logger:     opts.Logger,
	}
}

// Run processes a job. Stages are reported to observe in strict order; a
// failure leaves the job at the last stage reached. Errors wrap the domain
// sentinels so callers can tell transient failures from permanent ones.
func (p *IngestionPipeline) Run(ctx context.Context, job *domain.IngestionJob, observe StageObserver) (*domain.JobResult, error) {
	start := time.Now()
	logger := p.logger.With("job_id", job.ID, "source", job.SourceRef())

	if observe == nil {
		observe = func(context.Context, *domain.IngestionJob, domain.JobStage) {}
	}
	stage := domain.JobStageReceived
	advance := func(next domain.JobStage) error {
		if !stage.CanTransition(next) {
			return fmt.Errorf("illegal stage transition %s -> %s", stage, next)
		}
		stage = next
		observe(ctx, job, next)
		return nil
	}

	// Load
	text, err := p.load(ctx, job)
	if err != nil {
		return nil, err
	}
	if err := advance(domain.JobStageLoaded); err != nil {
		return nil, err
	}

	// Chunk
	chunks := p.chunker.Collect(text, job.SourceRef())
	if err := advance(domain.JobStageChunked); err != nil {
		return nil, err
	}
	logger.Debug("document chunked", "chars", len(text), "chunks", len(chunks))

	// Embed
	embedded, err := p.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}
	if err := advance(domain.JobStageEmbedded); err != nil {
		return nil, err
	}

	// Index
	ids, err := p.write(ctx, job, embedded)
	if err != nil {
		return nil, err
	}
	if err := advance(domain.JobStageIndexed); err != nil {
		return nil, err
	}

	result := &domain.JobResult{
		JobID:      job.ID,
		Stage:      stage,
		ChunkCount: len(chunks),
		EntryIDs:   ids,
		Duration:   time.Since(start),
	}
	logger.Info("document indexed", "chunks", result.ChunkCount, "duration", result.Duration)
	return result, nil
}

func (p *IngestionPipeline) load(ctx context.Context, job *domain.IngestionJob) (string, error) {
	loader := p.loaders.Get(job.SourcePath)
	if loader == nil && job.OriginalName != "" {
		loader = p.loaders.Get(job.OriginalName)
	}
	if loader == nil {
		return "", fmt.Errorf("%w: %w: %s", domain.ErrLoad, domain.ErrUnsupportedFormat, job.SourceRef())
	}
	return loader.Load(ctx, job.SourcePath)
}

func (p *IngestionPipeline) embed(ctx context.Context, chunks []domain.TextChunk) ([]domain.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	embedder := p.services.Embedder()
	if embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", domain.ErrEmbeddingUnavailable)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks", domain.ErrEmbeddingUnavailable, len(vectors), len(chunks))
	}

	dims := p.index.Dimensions()
	out := make([]domain.EmbeddedChunk, len(chunks))
	for i, v := range vectors {
		if len(v) != dims {
			return nil, fmt.Errorf("%w: embedder returned %d components, index expects %d", domain.ErrDimensionMismatch, len(v), dims)
		}
		out[i] = domain.EmbeddedChunk{Vector: v, Chunk: chunks[i]}
	}
	return out, nil
}

func (p *IngestionPipeline) write(ctx context.Context, job *domain.IngestionJob, embedded []domain.EmbeddedChunk) ([]string, error) {
	if len(embedded) == 0 {
		return nil, nil
	}

	entries := make([]*domain.IndexEntry, len(embedded))
	for i, ec := range embedded {
		entry := domain.NewIndexEntry(ec, job)
		if p.idStrategy == domain.IDStrategyContent {
			entry.ID = ContentID(ec.Chunk)
		}
		entries[i] = entry
	}
	return p.index.Upsert(ctx, entries)
}

// ContentID derives a stable entry id from a chunk, so writing the same
// chunk twice overwrites instead of adding a duplicate.
func ContentID(c domain.TextChunk) string {
	key := c.SourceRef + "\x00" + strconv.Itoa(c.SequenceIndex) + "\x00" + c.Content
	return uuid.NewSHA1(entryNamespace, []byte(key)).String()
}
