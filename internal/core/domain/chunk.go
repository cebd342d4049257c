package domain

import "strconv"

// Metadata keys written alongside every index entry
const (
	MetaSourceRef     = "source_ref"
	MetaOriginalName  = "original_name"
	MetaSequenceIndex = "sequence_index"
	MetaJobID         = "job_id"
)

// TextChunk is a bounded contiguous slice of a document's text.
// SequenceIndex preserves reading order within one document.
type TextChunk struct {
	Content       string `json:"content"`
	SequenceIndex int    `json:"sequence_index"`
	SourceRef     string `json:"source_ref"`
}

// EmbeddedChunk pairs a chunk with its embedding vector
type EmbeddedChunk struct {
	Vector []float32 `json:"vector"`
	Chunk  TextChunk `json:"chunk"`
}

// IndexEntry is the persisted form of an EmbeddedChunk inside a vector index.
// ID is empty until the index assigns one, unless the caller keys it.
type IndexEntry struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// NewIndexEntry builds the index form of an embedded chunk produced by a job
func NewIndexEntry(ec EmbeddedChunk, job *IngestionJob) *IndexEntry {
	meta := map[string]string{
		MetaSourceRef:     ec.Chunk.SourceRef,
		MetaSequenceIndex: strconv.Itoa(ec.Chunk.SequenceIndex),
	}
	if job != nil {
		meta[MetaJobID] = job.ID
		if job.OriginalName != "" {
			meta[MetaOriginalName] = job.OriginalName
		}
	}
	return &IndexEntry{
		Vector:   ec.Vector,
		Content:  ec.Chunk.Content,
		Metadata: meta,
	}
}
