package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-rag/internal/runtime"
)

// Ensure answerOrchestrator implements ChatService
var _ driving.ChatService = (*answerOrchestrator)(nil)

// AnswerPreamble opens every system context sent to the generator
const AnswerPreamble = "You are a helpful AI assistant who answers the user query based on the available context from the uploaded documents.\nContext:\n"

// contextDocument is the JSON shape of one retrieved document in the prompt
type contextDocument struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

type answerOrchestrator struct {
	retriever driving.Retriever
	services  *runtime.Services
	cfg       domain.RetrievalConfig
	logger    *slog.Logger
}

// NewAnswerOrchestrator creates a ChatService that retrieves context and
// asks the configured generator for an answer.
func NewAnswerOrchestrator(retriever driving.Retriever, services *runtime.Services, cfg domain.RetrievalConfig, logger *slog.Logger) driving.ChatService {
	defaults := domain.DefaultRetrievalConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = defaults.TopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = defaults.MaxTopK
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = defaults.MaxContextChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &answerOrchestrator{
		retriever: retriever,
		services:  services,
		cfg:       cfg,
		logger:    logger,
	}
}

// Answer retrieves up to k documents for query, builds a bounded context and
// returns the generator's answer with the documents that were shown to it.
func (o *answerOrchestrator) Answer(ctx context.Context, query string, opts domain.AnswerOptions) (*domain.Answer, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrInvalidInput)
	}

	k := opts.TopK
	if k <= 0 {
		k = o.cfg.TopK
	}
	if k > o.cfg.MaxTopK {
		k = o.cfg.MaxTopK
	}

	generator := o.services.Generator()
	if generator == nil {
		return nil, fmt.Errorf("%w: no generator configured", domain.ErrGenerationUnavailable)
	}

	docs, err := o.retriever.Retrieve(ctx, query, k)
	if err != nil {
		return nil, err
	}

	systemContext, used, err := BuildContext(docs, o.cfg.MaxContextChars)
	if err != nil {
		return nil, err
	}
	if len(used) < len(docs) || (len(used) > 0 && used[0].Content != docs[0].Content) {
		o.logger.Debug("context trimmed to fit",
			"retrieved", len(docs),
			"kept", len(used),
			"max_context_chars", o.cfg.MaxContextChars,
		)
	}

	text, err := generator.Generate(ctx, systemContext, query)
	if err != nil {
		if errors.Is(err, domain.ErrGenerationUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
	}

	return &domain.Answer{
		Query:     query,
		Text:      text,
		Documents: used,
		Took:      time.Since(start),
	}, nil
}

// BuildContext renders the system context for docs, keeping the serialized
// document list within maxChars characters. Lower-ranked documents are
// dropped first; if the top document alone is too large its content is
// truncated. It returns the documents that made it into the context.
func BuildContext(docs domain.RetrievalResult, maxChars int) (string, domain.RetrievalResult, error) {
	used := make(domain.RetrievalResult, len(docs))
	copy(used, docs)

	for {
		payload, err := renderDocuments(used)
		if err != nil {
			return "", nil, err
		}
		size := utf8.RuneCountInString(payload)
		if size <= maxChars || len(used) == 0 {
			return AnswerPreamble + payload, used, nil
		}
		if len(used) > 1 {
			used = used[:len(used)-1]
			continue
		}

		// Only the top document is left: shrink its content by the overflow.
		content := []rune(used[0].Content)
		keep := len(content) - (size - maxChars)
		if keep < 0 {
			keep = 0
		}
		if keep == len(content) {
			keep--
		}
		if keep < 0 {
			// Nothing left to cut; metadata alone exceeds the budget.
			return AnswerPreamble + payload, used, nil
		}
		used[0].Content = string(content[:keep])
	}
}

func renderDocuments(docs domain.RetrievalResult) (string, error) {
	out := make([]contextDocument, len(docs))
	for i, d := range docs {
		out[i] = contextDocument{
			Content: d.Content,
			Source:  d.Source(),
			Score:   d.Score,
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode context: %w", err)
	}
	return string(b), nil
}
