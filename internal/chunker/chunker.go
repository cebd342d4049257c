// Package chunker splits document text into bounded, optionally overlapping
// windows. Windows are measured in units: Unicode characters by default, or
// whitespace-delimited words.
//
// With zero overlap the chunks partition the input: concatenating them in
// sequence order yields the original text exactly.
package chunker

import (
	"iter"
	"unicode"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// Chunker produces TextChunks from text according to a ChunkConfig.
// It holds no state between calls and is safe for concurrent use.
type Chunker struct {
	cfg domain.ChunkConfig
}

// New validates cfg and returns a Chunker.
func New(cfg domain.ChunkConfig) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Unit == "" {
		cfg.Unit = domain.ChunkUnitRune
	}
	return &Chunker{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (c *Chunker) Config() domain.ChunkConfig {
	return c.cfg
}

// Chunk returns a lazy sequence of chunks over text. Each chunk holds at most
// MaxSize units and starts MaxSize-Overlap units after the previous one. The
// last chunk always ends at the end of text. Empty text yields nothing.
//
// The sequence can be ranged over more than once.
func (c *Chunker) Chunk(text, sourceRef string) iter.Seq[domain.TextChunk] {
	return func(yield func(domain.TextChunk) bool) {
		if text == "" {
			return
		}
		starts := c.unitStarts(text)
		n := len(starts)
		step := c.cfg.MaxSize - c.cfg.Overlap

		seq := 0
		for first := 0; ; first += step {
			last := first + c.cfg.MaxSize
			if last > n {
				last = n
			}
			end := len(text)
			if last < n {
				end = starts[last]
			}
			chunk := domain.TextChunk{
				Content:       text[starts[first]:end],
				SequenceIndex: seq,
				SourceRef:     sourceRef,
			}
			if !yield(chunk) {
				return
			}
			if last == n {
				return
			}
			seq++
		}
	}
}

// Collect materialises Chunk into a slice.
func (c *Chunker) Collect(text, sourceRef string) []domain.TextChunk {
	var chunks []domain.TextChunk
	for chunk := range c.Chunk(text, sourceRef) {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// unitStarts returns the byte offset at which each unit begins.
func (c *Chunker) unitStarts(text string) []int {
	if c.cfg.Unit == domain.ChunkUnitWord {
		return wordStarts(text)
	}
	starts := make([]int, 0, utf8.RuneCountInString(text))
	for i := range text {
		starts = append(starts, i)
	}
	return starts
}

// wordStarts treats a word as a run of non-space characters plus the
// whitespace that follows it. Leading whitespace belongs to the first word.
func wordStarts(text string) []int {
	starts := []int{0}
	prevSpace := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if i > 0 && prevSpace && !space {
			starts = append(starts, i)
		}
		prevSpace = space
	}
	return starts
}

// Split chunks text by characters and returns the chunk contents.
func Split(text string, maxSize, overlap int) ([]string, error) {
	c, err := New(domain.ChunkConfig{MaxSize: maxSize, Overlap: overlap, Unit: domain.ChunkUnitRune})
	if err != nil {
		return nil, err
	}
	var out []string
	for chunk := range c.Chunk(text, "") {
		out = append(out, chunk.Content)
	}
	return out, nil
}
