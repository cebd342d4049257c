package ai

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func batchSizeOrDefault(n int) int {
	if n <= 0 {
		return defaultEmbedBatchSize
	}
	return n
}

// newLimiter paces provider requests. Zero or negative rps disables pacing.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// embedInBatches calls fn for consecutive slices of at most size texts and
// stitches the results back together. A short or empty vector from the
// provider fails the whole call; partial results are never returned.
func embedInBatches(
	ctx context.Context,
	texts []string,
	size int,
	limiter *rate.Limiter,
	fn func(context.Context, []string) ([][]float32, error),
) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))

		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
		}

		vectors, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts",
				domain.ErrEmbeddingUnavailable, len(vectors), end-start)
		}
		for i, v := range vectors {
			if len(v) == 0 {
				return nil, fmt.Errorf("%w: no vector returned for text %d", domain.ErrEmbeddingUnavailable, start+i)
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}
